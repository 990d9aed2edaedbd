package can

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Identifier flags and masks, as laid out in the kernel can_id field.
const (
	CanEffFlag uint32 = 0x80000000 // extended frame format (29 bit id)
	CanRtrFlag uint32 = 0x40000000 // remote transmission request
	CanErrFlag uint32 = 0x20000000 // error message frame
	CanSffMask uint32 = 0x000007FF
	CanEffMask uint32 = 0x1FFFFFFF
)

// Kernel frame sizes
const (
	CanMaxDlen   = 8
	CanFdMaxDlen = 64
	CanMtu       = 16 // sizeof(struct can_frame)
	CanFdMtu     = 72 // sizeof(struct canfd_frame)
)

// CAN-FD flags (canfd_frame.flags)
const (
	CanFdBrs uint8 = 0x01 // bit rate switch
	CanFdEsi uint8 = 0x02 // error state indicator
)

var (
	ErrFrameLength = errors.New("invalid frame length")
	ErrFrameShape  = errors.New("payload length inconsistent with frame shape")
)

// A normalized CAN frame.
//
// ID holds the arbitration id. For extended frames [CanEffFlag] is folded
// into the id, so standard 0x123 and extended 0x123 never collide
// (0x123 and 0x80000123 respectively).
type Frame struct {
	ID    uint32
	Flags uint8
	Len   uint8
	FD    bool
	RTR   bool
	Data  [CanFdMaxDlen]byte
}

// Payload returns the valid bytes of the frame.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// Extended reports whether the frame carries a 29 bit identifier.
func (f *Frame) Extended() bool {
	return f.ID&CanEffFlag != 0
}

// Arbitration returns the bus-level identifier without any flag.
func (f *Frame) Arbitration() uint32 {
	if f.Extended() {
		return f.ID & CanEffMask
	}
	return f.ID & CanSffMask
}

func (f Frame) String() string {
	kind := "CAN"
	if f.FD {
		kind = "CAN-FD"
	}
	return fmt.Sprintf("%s id x%x len %d data %X", kind, f.ID, f.Len, f.Data[:f.Len])
}

// Decode converts the raw bytes of one kernel frame into a [Frame].
// n is the byte count reported by the socket, it selects the frame shape:
// [CanMtu] is a classic frame and [CanFdMtu] a CAN-FD frame.
// Bytes beyond the payload length are never read.
func Decode(raw []byte, n int) (Frame, error) {
	var frame Frame
	if n <= 0 || n > len(raw) {
		return frame, fmt.Errorf("%w : %v bytes", ErrFrameLength, n)
	}
	switch n {
	case CanMtu:
	case CanFdMtu:
		frame.FD = true
	default:
		return frame, fmt.Errorf("%w : %v bytes", ErrFrameLength, n)
	}

	length := int(raw[4])
	if length > CanFdMaxDlen || (!frame.FD && length > CanMaxDlen) {
		return frame, fmt.Errorf("%w : len %v, fd %v", ErrFrameShape, length, frame.FD)
	}

	canID := binary.NativeEndian.Uint32(raw[0:4])
	if canID&CanEffFlag != 0 {
		frame.ID = (canID & CanEffMask) | CanEffFlag
	} else {
		frame.ID = canID & CanSffMask
	}
	frame.RTR = canID&CanRtrFlag != 0
	if frame.FD {
		frame.Flags = raw[5]
	}
	frame.Len = uint8(length)
	copy(frame.Data[:length], raw[8:8+length])
	return frame, nil
}

// MarshalBinary encodes the frame into the kernel layout : a 16 byte
// can_frame for classic frames, a 72 byte canfd_frame otherwise.
func (f *Frame) MarshalBinary() ([]byte, error) {
	size := CanMtu
	maxLen := CanMaxDlen
	if f.FD {
		size = CanFdMtu
		maxLen = CanFdMaxDlen
	}
	if int(f.Len) > maxLen {
		return nil, fmt.Errorf("%w : len %v, fd %v", ErrFrameShape, f.Len, f.FD)
	}
	canID := f.ID
	if f.RTR {
		canID |= CanRtrFlag
	}
	raw := make([]byte, size)
	binary.NativeEndian.PutUint32(raw[0:4], canID)
	raw[4] = f.Len
	if f.FD {
		raw[5] = f.Flags
	}
	copy(raw[8:], f.Data[:f.Len])
	return raw, nil
}
