//go:build !linux

package socketcanring

import "github.com/samsamfire/cansource/pkg/can"

func init() {
	can.RegisterInterface("socketcanring", NewSource)
}

// Packet rings only exist on Linux.
func NewSource(opts can.Options) (can.Source, error) {
	return nil, can.ErrUnsupported
}
