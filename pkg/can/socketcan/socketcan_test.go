//go:build linux

package socketcan

import (
	"context"
	"net"
	"testing"
	"time"

	brutella "github.com/brutella/can"
	"github.com/samsamfire/cansource/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	einride "go.einride.tech/can"
	einridesocketcan "go.einride.tech/can/pkg/socketcan"
	"golang.org/x/sys/unix"
)

const testInterface = "vcan0"

func requireVcan(t *testing.T) {
	t.Helper()
	if _, err := net.InterfaceByName(testInterface); err != nil {
		t.Skipf("skipping, %v unavailable : %v", testInterface, err)
	}
}

func openSource(t *testing.T, fd bool) *Source {
	t.Helper()
	requireVcan(t)
	source, err := Open(can.Options{Interface: testInterface, FD: fd, IdleTime: 50 * time.Millisecond})
	require.Nil(t, err)
	t.Cleanup(func() { source.Close() })
	return source
}

func newPublisher(t *testing.T) *brutella.Bus {
	t.Helper()
	bus, err := brutella.NewBusForInterfaceWithName(testInterface)
	require.Nil(t, err)
	t.Cleanup(func() { bus.Disconnect() })
	return bus
}

// receiveOne waits until at least one frame has been received
func receiveOne(t *testing.T, source *Source) can.Received {
	t.Helper()
	batch := make([]can.Received, MaxBatchSize)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := source.Receive(batch)
		require.Nil(t, err)
		if n > 0 {
			return batch[0]
		}
	}
	t.Fatal("no frame received")
	return can.Received{}
}

func TestOpenInvalidName(t *testing.T) {
	_, err := Open(can.Options{Interface: ""})
	assert.ErrorIs(t, err, ErrInterfaceName)
	_, err = Open(can.Options{Interface: "averyveryverylongname"})
	assert.ErrorIs(t, err, ErrInterfaceName)
}

func TestOpenUnknownInterface(t *testing.T) {
	_, err := Open(can.Options{Interface: "nocan42"})
	assert.NotNil(t, err)
}

func TestCloseTwice(t *testing.T) {
	source := openSource(t, false)
	assert.Nil(t, source.Close())
	assert.Nil(t, source.Close())
	_, err := source.Receive(make([]can.Received, 1))
	assert.ErrorIs(t, err, can.ErrClosed)
}

func TestReceiveTimeout(t *testing.T) {
	source := openSource(t, false)
	start := time.Now()
	n, err := source.Receive(make([]can.Received, 1))
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReceiveClassic(t *testing.T) {
	source := openSource(t, false)
	publisher := newPublisher(t)
	err := publisher.Publish(brutella.Frame{ID: 0x123, Length: 4, Data: [8]uint8{0, 1, 2}})
	require.Nil(t, err)

	received := receiveOne(t, source)
	assert.Equal(t, can.CanMtu, received.N)
	assert.NotZero(t, received.Timestamps.Software)
	frame, err := received.Decode()
	assert.Nil(t, err)
	assert.EqualValues(t, 0x123, frame.ID)
	assert.Equal(t, []byte{0, 1, 2, 0}, frame.Payload())
}

func TestReceiveExtended(t *testing.T) {
	source := openSource(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := einridesocketcan.DialContext(ctx, "can", testInterface)
	require.Nil(t, err)
	defer conn.Close()
	tx := einridesocketcan.NewTransmitter(conn)
	err = tx.TransmitFrame(ctx, einride.Frame{ID: 0x123, Length: 4, IsExtended: true})
	require.Nil(t, err)

	frame, err := receiveOne(t, source).Decode()
	assert.Nil(t, err)
	assert.EqualValues(t, 0x80000123, frame.ID)
}

func TestReceiveFD(t *testing.T) {
	source := openSource(t, true)
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	require.Nil(t, err)
	defer unix.Close(fd)
	require.Nil(t, unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1))
	iface, err := net.InterfaceByName(testInterface)
	require.Nil(t, err)
	require.Nil(t, unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}))

	sent := can.Frame{ID: 0x123, FD: true, Len: 64}
	for i := range sent.Data {
		sent.Data[i] = uint8(i)
	}
	raw, err := sent.MarshalBinary()
	require.Nil(t, err)
	_, err = unix.Write(fd, raw)
	require.Nil(t, err)

	received := receiveOne(t, source)
	assert.Equal(t, can.CanFdMtu, received.N)
	frame, err := received.Decode()
	assert.Nil(t, err)
	assert.True(t, frame.FD)
	assert.Equal(t, sent.Payload(), frame.Payload())
}

func TestReceiveBatchInOrder(t *testing.T) {
	source := openSource(t, false)
	publisher := newPublisher(t)
	for i := range 50 {
		require.Nil(t, publisher.Publish(brutella.Frame{ID: 0x100, Length: 1, Data: [8]uint8{uint8(i)}}))
	}
	batch := make([]can.Received, MaxBatchSize)
	next := 0
	deadline := time.Now().Add(2 * time.Second)
	for next < 50 && time.Now().Before(deadline) {
		n, err := source.Receive(batch)
		require.Nil(t, err)
		assert.LessOrEqual(t, n, MaxBatchSize)
		for i := range n {
			frame, err := batch[i].Decode()
			require.Nil(t, err)
			assert.EqualValues(t, next, frame.Data[0])
			next++
		}
	}
	assert.Equal(t, 50, next)
}

func TestParseTimestampsEmpty(t *testing.T) {
	assert.Zero(t, parseTimestamps(nil))
}
