// Package sink moves acquired messages out of a channel buffer into
// downstream writers (databases, logs ...).
package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/samsamfire/cansource/pkg/datasource"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize    = 1000
	DefaultPollInterval = 100 * time.Millisecond
)

var ErrNoWriter = errors.New("no writer configured")

// A Writer persists a batch of messages.
// The batch is only valid for the duration of the call.
// Writers may be shared between drainers, their owner closes them.
type Writer interface {
	Write(ctx context.Context, messages []datasource.Message) error
	Close() error
}

// Drainer periodically pops messages from a buffer and hands them
// to every writer.
type Drainer struct {
	buffer    *datasource.Buffer
	writers   []Writer
	batch     []datasource.Message
	interval  time.Duration
	logger    *log.Entry
	written   atomic.Uint64
	failed    atomic.Uint64
	batchSize int
}

type DrainerOption func(d *Drainer)

// WithBatchSize sets the maximum number of messages per write.
func WithBatchSize(size int) DrainerOption {
	return func(d *Drainer) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithPollInterval sets the wait between two polls of an empty buffer.
func WithPollInterval(interval time.Duration) DrainerOption {
	return func(d *Drainer) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithLogger(logger *log.Entry) DrainerOption {
	return func(d *Drainer) {
		d.logger = logger
	}
}

func NewDrainer(buffer *datasource.Buffer, writers []Writer, opts ...DrainerOption) (*Drainer, error) {
	if len(writers) == 0 {
		return nil, ErrNoWriter
	}
	d := &Drainer{
		buffer:    buffer,
		writers:   writers,
		interval:  DefaultPollInterval,
		batchSize: DefaultBatchSize,
		logger:    log.WithField("module", "sink"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.batch = make([]datasource.Message, d.batchSize)
	return d, nil
}

// Flush writes everything currently in the buffer and returns the number of
// messages popped. A writer failure does not prevent the other writers
// from receiving the batch.
func (d *Drainer) Flush(ctx context.Context) int {
	total := 0
	for {
		n := d.buffer.PopN(d.batch)
		if n == 0 {
			return total
		}
		total += n
		for _, writer := range d.writers {
			if err := writer.Write(ctx, d.batch[:n]); err != nil {
				d.failed.Add(uint64(n))
				d.logger.Warnf("[SINK] failed to write %v messages : %v", n, err)
				continue
			}
			d.written.Add(uint64(n))
		}
		clear(d.batch[:n])
		if n < len(d.batch) {
			return total
		}
	}
}

// Run drains the buffer until ctx is cancelled. Messages still in the
// buffer at that time are flushed with a fresh context before returning.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.logger.Infof("[SINK] draining to %v writer(s) every %v", len(d.writers), d.interval)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n := d.Flush(flushCtx)
			cancel()
			d.logger.Infof("[SINK] stopped, flushed %v remaining messages", n)
			return
		case <-ticker.C:
			d.Flush(ctx)
		}
	}
}

// Written returns the number of messages successfully handed to writers,
// counted once per writer.
func (d *Drainer) Written() uint64 {
	return d.written.Load()
}

// Failed returns the number of messages a writer rejected, counted once per writer.
func (d *Drainer) Failed() uint64 {
	return d.failed.Load()
}
