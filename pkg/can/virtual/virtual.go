package virtual

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/samsamfire/cansource/pkg/can"
	"github.com/samsamfire/cansource/pkg/timestamp"
	log "github.com/sirupsen/logrus"
)

// In-process CAN bus, primarily used for testing and on hosts
// without SocketCAN. Buses are identified by name, every source opened
// on a name receives the frames sent on the bus of the same name.

func init() {
	can.RegisterInterface("virtual", NewSource)
}

const (
	rxQueueSize     = 256
	defaultIdleTime = 100 * time.Millisecond
)

var (
	busesMu sync.Mutex
	buses   = make(map[string]*Bus)
)

type Bus struct {
	mu      sync.RWMutex
	name    string
	clock   timestamp.Clock
	sources map[*Source]struct{}
}

// Get returns the bus with the given name, creating it if needed.
func Get(name string) *Bus {
	busesMu.Lock()
	defer busesMu.Unlock()
	bus, ok := buses[name]
	if !ok {
		bus = &Bus{name: name, clock: timestamp.SystemClock, sources: make(map[*Source]struct{})}
		buses[name] = bus
	}
	return bus
}

// Send a frame to every source currently open on the bus.
// The kernel software timestamp is set to the sending time.
func (b *Bus) Send(frame can.Frame) error {
	return b.SendWithTimestamps(frame, timestamp.Kernel{Software: b.clock.Now()})
}

// Send a frame with explicit kernel timestamps.
func (b *Bus) SendWithTimestamps(frame can.Frame, stamps timestamp.Kernel) error {
	raw, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	return b.SendRaw(raw, stamps)
}

// Send raw kernel bytes, malformed content is delivered as is.
func (b *Bus) SendRaw(raw []byte, stamps timestamp.Kernel) error {
	var received can.Received
	received.N = copy(received.Raw[:], raw)
	received.Timestamps = stamps

	b.mu.RLock()
	defer b.mu.RUnlock()
	for source := range b.sources {
		// Like the kernel, FD frames only reach FD enabled sockets
		if received.N == can.CanFdMtu && !source.fd {
			continue
		}
		source.deliver(received)
	}
	return nil
}

// Sources returns the number of sources open on the bus.
func (b *Bus) Sources() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sources)
}

func (b *Bus) attach(s *Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[s] = struct{}{}
}

func (b *Bus) detach(s *Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sources, s)
}

// Source end of a virtual bus
type Source struct {
	bus       *Bus
	fd        bool
	idleTime  time.Duration
	rx        chan can.Received
	closeOnce sync.Once
	closed    chan struct{}
	dropped   atomic.Uint64
}

// "NewSource" implementation, opts.Interface is the bus name.
func NewSource(opts can.Options) (can.Source, error) {
	return Open(opts), nil
}

func Open(opts can.Options) *Source {
	idleTime := opts.IdleTime
	if idleTime <= 0 {
		idleTime = defaultIdleTime
	}
	s := &Source{
		bus:      Get(opts.Interface),
		fd:       opts.FD,
		idleTime: idleTime,
		rx:       make(chan can.Received, rxQueueSize),
		closed:   make(chan struct{}),
	}
	s.bus.attach(s)
	return s
}

func (s *Source) deliver(received can.Received) {
	select {
	case s.rx <- received:
	default:
		s.dropped.Add(1)
		log.Debugf("[VIRTUAL] rx queue full on %v, dropping frame", s.bus.name)
	}
}

// Dropped returns the number of frames lost because the rx queue was full.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// "Receive" implementation of can.Source interface
func (s *Source) Receive(batch []can.Received) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	timer := time.NewTimer(s.idleTime)
	defer timer.Stop()
	select {
	case <-s.closed:
		return 0, can.ErrClosed
	case <-timer.C:
		return 0, nil
	case batch[0] = <-s.rx:
	}
	n := 1
	for n < len(batch) {
		select {
		case batch[n] = <-s.rx:
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// "Close" implementation of can.Source interface
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.bus.detach(s)
		close(s.closed)
	})
	return nil
}
