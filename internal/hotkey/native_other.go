//go:build !darwin && !linux && !windows

package hotkey

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var errNoNative = errors.New("native hotkeys are not available on this platform")

// NativeBackend is unavailable on this platform; every Register fails.
type NativeBackend struct{}

func NewNativeBackend(*logrus.Logger) *NativeBackend { return &NativeBackend{} }

func (b *NativeBackend) Name() string { return BackendNative }
func (b *NativeBackend) Register(Key, func()) error { return errNoNative }
func (b *NativeBackend) UnregisterAll() error { return nil }
