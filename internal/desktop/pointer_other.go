//go:build !windows && !linux

package desktop

import "image"

func pointer() (image.Point, error) { return image.Point{}, ErrUnsupported }
