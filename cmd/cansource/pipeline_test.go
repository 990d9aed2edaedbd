package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samsamfire/cansource/pkg/can"
	"github.com/samsamfire/cansource/pkg/can/virtual"
	"github.com/samsamfire/cansource/pkg/channel"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/sink"
	"github.com/samsamfire/cansource/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var busCounter atomic.Uint32

type memoryWriter struct {
	mu       sync.Mutex
	messages []datasource.Message
	closes   int
}

func (w *memoryWriter) Write(ctx context.Context, messages []datasource.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, messages...)
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

// Pushes a message while the channel is being disconnected,
// like a reader handling its last batch.
type latePusher struct {
	buffer *datasource.Buffer
}

func (l *latePusher) OnConnected(id datasource.SourceID) {}

func (l *latePusher) OnDisconnected(id datasource.SourceID) {
	l.buffer.Push(datasource.Message{ID: 0x7FF, SourceID: id})
}

func newTestPipeline(t *testing.T, writer *memoryWriter, nbChannels int) (*pipeline, []string) {
	t.Helper()
	p := newPipeline([]sink.Writer{writer})
	names := make([]string, 0, nbChannels)
	for range nbChannels {
		name := fmt.Sprintf("vpipe%d", busCounter.Add(1))
		c := channel.New(timestamp.Software)
		require.Nil(t, c.Init([]datasource.Config{{
			TransportProperties: map[string]string{
				channel.PropertyInterfaceName: name,
				channel.PropertyInterfaceType: "virtual",
				channel.PropertyIdleTime:      "20",
			},
			MaxMessages: 100,
		}}))
		// Only the final flush writes
		drainer, err := sink.NewDrainer(c.Buffer(), p.writers, sink.WithPollInterval(time.Hour))
		require.Nil(t, err)
		require.Nil(t, c.Connect())
		c.ResumeDataAcquisition()
		p.add(c, drainer)
		names = append(names, name)
	}
	return p, names
}

func TestStopWritesQueuedMessages(t *testing.T) {
	writer := &memoryWriter{}
	p, names := newTestPipeline(t, writer, 2)
	p.start()
	for i, name := range names {
		require.Nil(t, virtual.Get(name).Send(can.Frame{ID: uint32(0x100 + i)}))
	}
	for _, c := range p.channels {
		require.Eventually(t, func() bool { return c.Stats().Received == 1 }, time.Second, 5*time.Millisecond)
	}
	p.stop()

	assert.Len(t, writer.messages, 2)
	assert.Equal(t, 1, writer.closes)
	for _, c := range p.channels {
		assert.False(t, c.IsAlive())
		assert.Equal(t, 0, c.Buffer().Len())
	}
}

func TestStopWritesMessagesQueuedDuringDisconnect(t *testing.T) {
	writer := &memoryWriter{}
	p, _ := newTestPipeline(t, writer, 1)
	c := p.channels[0]
	require.True(t, c.Subscribe(&latePusher{buffer: c.Buffer()}))
	p.start()
	p.stop()

	require.Len(t, writer.messages, 1)
	assert.EqualValues(t, 0x7FF, writer.messages[0].ID)
	assert.Equal(t, 0, c.Buffer().Len())
}

func TestStopWithoutStart(t *testing.T) {
	writer := &memoryWriter{}
	p, _ := newTestPipeline(t, writer, 1)
	p.stop()
	assert.Equal(t, 1, writer.closes)
	assert.False(t, p.channels[0].IsAlive())
}
