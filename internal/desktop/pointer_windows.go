//go:build windows

package desktop

import (
	"image"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32           = windows.NewLazySystemDLL("user32.dll")
	procGetCursorPos = user32.NewProc("GetCursorPos")
)

type point struct{ X, Y int32 }

func pointer() (image.Point, error) {
	var pt point
	ret, _, err := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	if ret == 0 {
		return image.Point{}, err
	}
	return image.Pt(int(pt.X), int(pt.Y)), nil
}
