// Package channel implements the CAN acquisition channel : a data source
// reading one CAN interface in a dedicated goroutine and publishing
// normalized messages into a bounded buffer.
//
// A channel starts suspended. Frames are read and discarded until
// [Channel.ResumeDataAcquisition] is called, so that the kernel receive
// queue never builds up.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samsamfire/cansource/pkg/buffer"
	"github.com/samsamfire/cansource/pkg/can"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/timestamp"
	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyInitialized = errors.New("channel already initialized")
	ErrNotInitialized     = errors.New("channel not initialized")
	ErrJoinTimeout        = errors.New("reader did not stop in time")
)

type State int32

const (
	Uninitialized State = iota
	Initialized
	Connected
	Disconnected
)

var stateNames = [...]string{"UNINITIALIZED", "INITIALIZED", "CONNECTED", "DISCONNECTED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

const (
	// Maximum frames handled per receive call
	ReceiveBatchSize = 10
	// Receive error backoff is capped to this many idle times
	maxBackoffFactor = 8
	// Extra time granted to the reader to stop, on top of the idle time
	joinGracePeriod = time.Second
)

type Stats struct {
	Received  uint64 // frames decoded while active
	Discarded uint64 // malformed frames
	Overflow  uint64 // messages rejected by the full buffer
}

// CAN acquisition channel, implements [datasource.Source].
type Channel struct {
	id        datasource.SourceID
	strategy  timestamp.Strategy
	clock     timestamp.Clock
	logger    *log.Entry
	listeners datasource.Registry

	// Control side, serialized by mu
	mu     sync.Mutex
	state  atomic.Int32
	opts   Options
	source can.Source
	buffer *datasource.Buffer
	done   chan struct{}

	// Shared with the reader
	shouldStop  atomic.Bool
	shouldSleep atomic.Bool
	running     atomic.Bool
	resumeTime  atomic.Uint64
	wake        chan struct{}

	received  atomic.Uint64
	discarded atomic.Uint64
}

var _ datasource.Source = (*Channel)(nil)

// New creates an uninitialized channel. strategy is the timestamp source
// used unless the configuration overrides it.
func New(strategy timestamp.Strategy) *Channel {
	id := datasource.NextSourceID()
	c := &Channel{
		id:       id,
		strategy: strategy,
		clock:    timestamp.SystemClock,
		logger:   log.WithField("source", id),
		wake:     make(chan struct{}, 1),
	}
	c.shouldSleep.Store(true)
	return c
}

// SetLogger replaces the logger. It fails once the channel has been initialized.
func (c *Channel) SetLogger(logger *log.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Uninitialized {
		return ErrAlreadyInitialized
	}
	c.logger = logger
	return nil
}

// SetClock replaces the clock used for polling time. It fails once the channel
// has been initialized.
func (c *Channel) SetClock(clock timestamp.Clock) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Uninitialized {
		return ErrAlreadyInitialized
	}
	c.clock = clock
	return nil
}

// Init validates the configuration and opens the interface.
// Exactly one configuration is expected. On failure nothing is retained
// and Init may be retried.
func (c *Channel) Init(configs []datasource.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Initialized, Connected:
		return ErrAlreadyInitialized
	}
	if len(configs) != 1 {
		return fmt.Errorf("%w : expected 1 configuration, got %v", ErrInvalidConfig, len(configs))
	}
	opts, err := ParseOptions(configs[0], c.strategy)
	if err != nil {
		return err
	}
	buf, err := buffer.New[datasource.Message](opts.MaxMessages)
	if err != nil {
		return fmt.Errorf("%w : %w", ErrInvalidConfig, err)
	}
	source, err := can.NewSource(opts.InterfaceType, can.Options{
		Interface: opts.InterfaceName,
		FD:        opts.FD,
		IdleTime:  opts.IdleTime,
	})
	if err != nil {
		c.logger.Errorf("[CHANNEL] failed to open %v : %v", opts.InterfaceName, err)
		return fmt.Errorf("failed to open %v : %w", opts.InterfaceName, err)
	}

	c.opts = opts
	c.source = source
	c.buffer = buf
	c.logger = c.logger.WithField("interface", opts.InterfaceName)
	c.shouldStop.Store(false)
	c.shouldSleep.Store(true)
	c.state.Store(int32(Initialized))
	c.logger.Infof("[CHANNEL] initialized (type %v, fd %v, idle %v, timestamp %v, buffer %v)",
		opts.InterfaceType, opts.FD, opts.IdleTime, opts.Timestamp, opts.MaxMessages)
	return nil
}

// Connect starts the reader and notifies listeners.
// Connecting an already connected channel is a no-op.
func (c *Channel) Connect() error {
	c.mu.Lock()
	switch c.State() {
	case Connected:
		c.mu.Unlock()
		return nil
	case Initialized:
	default:
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.shouldStop.Store(false)
	select {
	case <-c.wake:
	default:
	}
	c.done = make(chan struct{})
	c.running.Store(true)
	go c.processIncoming(c.source, c.buffer, c.done)
	c.state.Store(int32(Connected))
	c.logger.Info("[CHANNEL] connected")
	c.mu.Unlock()

	c.listeners.NotifyConnected(c.id)
	return nil
}

// Disconnect stops the reader, waits for it to return then closes the interface.
// Once Disconnect returns nil, the interface and the buffer are no longer used
// by the channel. Calling Disconnect on a channel that is not connected is a no-op.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	state := c.State()
	if state != Initialized && state != Connected {
		c.mu.Unlock()
		return nil
	}
	if state == Connected {
		c.shouldStop.Store(true)
		c.signalWake()
		if err := c.join(); err != nil {
			c.mu.Unlock()
			c.logger.Errorf("[CHANNEL] %v, interface left open", err)
			return err
		}
	}
	if err := c.source.Close(); err != nil {
		c.logger.Warnf("[CHANNEL] error closing interface : %v", err)
	}
	c.source = nil
	c.state.Store(int32(Disconnected))
	stats := c.stats()
	c.logger.Infof("[CHANNEL] disconnected (received %v, discarded %v, overflow %v)",
		stats.Received, stats.Discarded, stats.Overflow)
	c.mu.Unlock()

	if state == Connected {
		c.listeners.NotifyDisconnected(c.id)
	}
	return nil
}

// join waits for the reader to return. mu must be held.
func (c *Channel) join() error {
	timeout := c.opts.IdleTime*maxBackoffFactor + joinGracePeriod
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w (%v)", ErrJoinTimeout, timeout)
	}
}

// IsAlive returns true if the interface is open and the reader running.
func (c *Channel) IsAlive() bool {
	return c.State() == Connected && c.running.Load()
}

// ResumeDataAcquisition opens the gate, frames received from now on are queued.
// It takes effect on the next received batch.
func (c *Channel) ResumeDataAcquisition() {
	switch c.State() {
	case Initialized, Connected:
	default:
		c.logger.Debug("[CHANNEL] resume ignored, channel not initialized")
		return
	}
	c.resumeTime.Store(uint64(c.clock.Now()))
	c.shouldSleep.Store(false)
	c.logger.Info("[CHANNEL] data acquisition resumed")
}

// SuspendDataAcquisition closes the gate, frames keep being read but are discarded.
func (c *Channel) SuspendDataAcquisition() {
	switch c.State() {
	case Initialized, Connected:
	default:
		c.logger.Debug("[CHANNEL] suspend ignored, channel not initialized")
		return
	}
	c.shouldSleep.Store(true)
	c.logger.Info("[CHANNEL] data acquisition suspended")
}

// Suspended reports whether frames are currently discarded.
// A connected channel that is suspended is still alive.
func (c *Channel) Suspended() bool {
	return c.shouldSleep.Load()
}

func (c *Channel) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// sleep returns after d or as soon as the channel is woken up.
func (c *Channel) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.wake:
	case <-timer.C:
	}
}

// Reader loop, runs until shouldStop is set.
func (c *Channel) processIncoming(source can.Source, buf *datasource.Buffer, done chan struct{}) {
	defer close(done)
	defer c.running.Store(false)

	batch := make([]can.Received, ReceiveBatchSize)
	backoff := c.opts.IdleTime
	for !c.shouldStop.Load() {
		n, err := source.Receive(batch)
		if errors.Is(err, can.ErrClosed) {
			c.logger.Warn("[CHANNEL] interface closed, exiting reception")
			return
		}
		if err != nil {
			c.logger.Warnf("[CHANNEL] receive error : %v, retrying in %v", err, backoff)
			c.sleep(backoff)
			backoff = min(2*backoff, maxBackoffFactor*c.opts.IdleTime)
			continue
		}
		backoff = c.opts.IdleTime
		c.handle(batch[:n], buf)
	}
	c.logger.Debug("[CHANNEL] exiting reception, stopped")
}

func (c *Channel) handle(batch []can.Received, buf *datasource.Buffer) {
	if len(batch) == 0 {
		return
	}
	sleeping := c.shouldSleep.Load()
	resumeTime := timestamp.Timestamp(c.resumeTime.Load())
	for i := range batch {
		received := &batch[i]
		reception := c.opts.Timestamp.Resolve(received.Timestamps, c.clock)
		frame, err := received.Decode()
		if err != nil {
			c.discarded.Add(1)
			c.logger.Debugf("[CHANNEL] discarding frame : %v", err)
			continue
		}
		if sleeping {
			continue
		}
		// Queued by the kernel before the last resume
		if software := received.Timestamps.Software; software != 0 && software < resumeTime {
			continue
		}
		payload := make([]byte, frame.Len)
		copy(payload, frame.Payload())
		buf.Push(datasource.Message{
			ID:            frame.ID,
			Data:          payload,
			FD:            frame.FD,
			ReceptionTime: reception,
			SourceID:      c.id,
			Protocol:      datasource.RawSocket,
		})
		c.received.Add(1)
	}
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) ID() datasource.SourceID {
	return c.id
}

func (c *Channel) InterfaceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.InterfaceName
}

func (c *Channel) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

func (c *Channel) Protocol() datasource.Protocol {
	return datasource.RawSocket
}

func (c *Channel) Type() datasource.SourceType {
	return datasource.CANSource
}

// Buffer returns the buffer consumers pop messages from, nil before Init.
// It stays valid after Disconnect so remaining messages can be consumed.
func (c *Channel) Buffer() *datasource.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats()
}

func (c *Channel) stats() Stats {
	stats := Stats{Received: c.received.Load(), Discarded: c.discarded.Load()}
	if c.buffer != nil {
		stats.Overflow = c.buffer.Dropped()
	}
	return stats
}

func (c *Channel) Subscribe(listener datasource.Listener) bool {
	return c.listeners.Subscribe(listener)
}

func (c *Channel) Unsubscribe(listener datasource.Listener) bool {
	return c.listeners.Unsubscribe(listener)
}
