// Package timestamp tags received CAN frames with a time in milliseconds
// since the unix epoch.
//
// Three sources exist, with different trust :
//
//   - [Software] uses the kernel software receive timestamp. It is close to
//     wall clock time and is the only one monotonic enough for downstream
//     deduplication. This is the default.
//   - [Hardware] uses the controller receive timestamp. It is not necessarily
//     epoch aligned and records may be rejected or misordered downstream.
//   - [Polling] uses the time at which the reader observed the frame. Frames
//     arriving in a burst may share the same value and be treated as
//     duplicates downstream.
//
// Whatever the strategy, a zero timestamp is never returned : the resolver
// falls back to polling time.
package timestamp

import (
	"errors"
	"fmt"
	"time"
)

// Milliseconds since unix epoch
type Timestamp uint64

// FromTime converts t to a [Timestamp]. The zero time gives 0.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() || t.UnixMilli() < 0 {
		return 0
	}
	return Timestamp(t.UnixMilli())
}

// FromUnix converts a seconds / nanoseconds pair as found in a kernel timespec.
func FromUnix(sec int64, nsec int64) Timestamp {
	if sec < 0 || nsec < 0 {
		return 0
	}
	return Timestamp(uint64(sec)*1000 + uint64(nsec)/1_000_000)
}

func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// Timestamps reported by the kernel for one frame, 0 when unset.
type Kernel struct {
	Software Timestamp
	Hardware Timestamp
}

type Strategy uint8

const (
	Software Strategy = iota
	Hardware
	Polling
)

var ErrUnknownStrategy = errors.New("unknown timestamp type")

var strategyNames = map[Strategy]string{
	Software: "Software",
	Hardware: "Hardware",
	Polling:  "Polling",
}

func (s Strategy) String() string {
	name, ok := strategyNames[s]
	if !ok {
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
	return name
}

// ParseStrategy accepts "Software", "Hardware" or "Polling".
func ParseStrategy(name string) (Strategy, error) {
	for strategy, n := range strategyNames {
		if n == name {
			return strategy, nil
		}
	}
	return Software, fmt.Errorf("%w : %q", ErrUnknownStrategy, name)
}

// Clock gives the polling time.
type Clock interface {
	Now() Timestamp
}

type systemClock struct{}

func (systemClock) Now() Timestamp {
	return FromTime(time.Now())
}

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Resolve picks the frame timestamp according to the strategy.
func (s Strategy) Resolve(kernel Kernel, clock Clock) Timestamp {
	var ts Timestamp
	switch s {
	case Software:
		ts = kernel.Software
	case Hardware:
		ts = kernel.Hardware
	}
	if ts == 0 {
		return clock.Now()
	}
	return ts
}
