// Package datasource holds the types shared by vehicle data sources and
// the components consuming them.
package datasource

import (
	"fmt"
	"sync/atomic"

	"github.com/samsamfire/cansource/pkg/buffer"
	"github.com/samsamfire/cansource/pkg/timestamp"
)

// Process unique identifier of a data source
type SourceID uint32

// Ids are allocated from 1 and never reused for the lifetime of the process.
var lastSourceID atomic.Uint32

// NextSourceID returns a new unique id, safe for concurrent use.
func NextSourceID() SourceID {
	return SourceID(lastSourceID.Add(1))
}

type SourceType uint8

const (
	InvalidSource SourceType = iota
	CANSource
)

func (t SourceType) String() string {
	switch t {
	case CANSource:
		return "CAN"
	default:
		return fmt.Sprintf("SourceType(%d)", uint8(t))
	}
}

type Protocol uint8

const (
	InvalidProtocol Protocol = iota
	RawSocket
)

func (p Protocol) String() string {
	switch p {
	case RawSocket:
		return "RAW_SOCKET"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Configuration of one data source
type Config struct {
	TransportProperties map[string]string
	MaxMessages         int // capacity of the source buffer
}

// Normalized vehicle data message
type Message struct {
	ID            uint32 // CAN id, extended frames have bit 31 set
	Data          []byte
	FD            bool
	ReceptionTime timestamp.Timestamp
	SourceID      SourceID
	Protocol      Protocol
}

type Buffer = buffer.Buffer[Message]

// Source is implemented by every vehicle data source.
type Source interface {
	Init(configs []Config) error
	Connect() error
	Disconnect() error
	IsAlive() bool
	ResumeDataAcquisition()
	SuspendDataAcquisition()

	ID() SourceID
	InterfaceName() string
	Protocol() Protocol
	Type() SourceType
	Buffer() *Buffer

	Subscribe(listener Listener) bool
	Unsubscribe(listener Listener) bool
}
