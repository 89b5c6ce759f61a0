//go:build linux

package desktop

import (
	"fmt"
	"image"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

func pointer() (image.Point, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return image.Point{}, fmt.Errorf("x11 connect: %w", err)
	}
	defer conn.Close()
	root := xproto.Setup(conn).DefaultScreen(conn).Root
	reply, err := xproto.QueryPointer(conn, root).Reply()
	if err != nil {
		return image.Point{}, fmt.Errorf("query pointer: %w", err)
	}
	return image.Pt(int(reply.RootX), int(reply.RootY)), nil
}
