//go:build linux

package socketcanring

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	brutella "github.com/brutella/can"
	"github.com/samsamfire/cansource/pkg/can"
	"github.com/samsamfire/cansource/pkg/can/socketcan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testInterface = "vcan0"

func openSource(t *testing.T) *Source {
	t.Helper()
	if _, err := net.InterfaceByName(testInterface); err != nil {
		t.Skipf("skipping, %v unavailable : %v", testInterface, err)
	}
	source, err := Open(can.Options{Interface: testInterface, IdleTime: 50 * time.Millisecond})
	if errors.Is(err, unix.EPERM) {
		t.Skip("skipping, packet sockets require CAP_NET_RAW")
	}
	require.Nil(t, err)
	t.Cleanup(func() { source.Close() })
	return source
}

func TestOpenInvalidName(t *testing.T) {
	_, err := Open(can.Options{Interface: ""})
	assert.ErrorIs(t, err, socketcan.ErrInterfaceName)
}

func TestHtons(t *testing.T) {
	raw := make([]byte, 2)
	binary.NativeEndian.PutUint16(raw, htons(unix.ETH_P_CAN))
	assert.Equal(t, []byte{0x00, 0x0C}, raw)
}

func TestReceiveWithSoftwareTimestamp(t *testing.T) {
	source := openSource(t)
	bus, err := brutella.NewBusForInterfaceWithName(testInterface)
	require.Nil(t, err)
	defer bus.Disconnect()

	before := time.Now().Add(-time.Second)
	require.Nil(t, bus.Publish(brutella.Frame{ID: 0x321, Length: 2, Data: [8]uint8{0xCA, 0xFE}}))

	batch := make([]can.Received, 10)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := source.Receive(batch)
		require.Nil(t, err)
		for _, received := range batch[:n] {
			frame, err := received.Decode()
			if err != nil || frame.ID != 0x321 {
				continue
			}
			assert.Equal(t, []byte{0xCA, 0xFE}, frame.Payload())
			assert.True(t, received.Timestamps.Software.Time().After(before))
			assert.Zero(t, received.Timestamps.Hardware)
			return
		}
	}
	t.Fatal("no frame received")
}

func TestReceiveTimeout(t *testing.T) {
	source := openSource(t)
	start := time.Now()
	n, err := source.Receive(make([]can.Received, 1))
	assert.Nil(t, err)
	// vcan0 may carry traffic from other tests
	if n == 0 {
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	}
}

func TestCloseTwice(t *testing.T) {
	source := openSource(t)
	assert.Nil(t, source.Close())
	assert.Nil(t, source.Close())
	_, err := source.Receive(make([]can.Received, 1))
	assert.ErrorIs(t, err, can.ErrClosed)
}
