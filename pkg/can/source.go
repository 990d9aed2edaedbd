package can

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samsamfire/cansource/pkg/timestamp"
)

var (
	ErrClosed      = errors.New("source closed")
	ErrUnsupported = errors.New("interface type not supported on this platform")
)

// Received holds one raw frame as returned by the kernel,
// with the timestamps found in the ancillary data.
type Received struct {
	Raw        [CanFdMtu]byte
	N          int
	Timestamps timestamp.Kernel
}

// Decode the received bytes, see [Decode].
func (r *Received) Decode() (Frame, error) {
	return Decode(r.Raw[:], r.N)
}

// Options used to open a [Source]
type Options struct {
	Interface string        // e.g. can0, vcan0
	FD        bool          // accept CAN-FD frames
	IdleTime  time.Duration // maximum time spent blocked in Receive
}

// A Source is a receive-only CAN interface.
// A source is owned by a single reader, it is not safe for concurrent use
// except for Close after the reader has returned.
type Source interface {
	// Receive blocks at most [Options.IdleTime] and fills the beginning of batch.
	// It returns 0 and a nil error when nothing was received in time.
	Receive(batch []Received) (int, error)
	// Close releases the underlying resources
	Close() error
}

type NewSourceFunc func(opts Options) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewSourceFunc)
)

// Register a new CAN interface type.
// This should be called inside an init() function of the implementation.
func RegisterInterface(interfaceType string, newSource NewSourceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[interfaceType] = newSource
}

// Interfaces returns the registered interface types, sorted.
func Interfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSource opens a source of the given interface type.
func NewSource(interfaceType string, opts Options) (Source, error) {
	registryMu.RLock()
	newSource, ok := registry[interfaceType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w : %v", ErrUnsupported, interfaceType)
	}
	return newSource(opts)
}
