//go:build !linux

package desktop

// Notifier reports ErrUnsupported outside Linux.
type Notifier struct {
	App string
}

func (Notifier) Notify(string, string) error { return ErrUnsupported }
