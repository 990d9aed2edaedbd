//go:build !linux

package socketcan

import "github.com/samsamfire/cansource/pkg/can"

func init() {
	can.RegisterInterface("socketcan", NewSource)
}

// Raw CAN sockets only exist on Linux.
func NewSource(opts can.Options) (can.Source, error) {
	return nil, can.ErrUnsupported
}
