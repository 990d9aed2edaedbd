//go:build linux

package channel

import (
	"net"
	"testing"

	brutella "github.com/brutella/can"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vcanInterface = "vcan0"

func TestSocketCANAcquisition(t *testing.T) {
	if _, err := net.InterfaceByName(vcanInterface); err != nil {
		t.Skipf("skipping, %v unavailable : %v", vcanInterface, err)
	}
	c := New(timestamp.Software)
	require.Nil(t, c.Init([]datasource.Config{{
		TransportProperties: map[string]string{
			PropertyInterfaceName: vcanInterface,
			PropertyProtocolName:  ProtocolCAN,
			PropertyIdleTime:      "50",
		},
		MaxMessages: 100,
	}}))
	require.Nil(t, c.Connect())
	defer c.Disconnect()
	assert.True(t, c.IsAlive())

	bus, err := brutella.NewBusForInterfaceWithName(vcanInterface)
	require.Nil(t, err)
	defer bus.Disconnect()

	c.ResumeDataAcquisition()
	require.Eventually(t, func() bool {
		bus.Publish(brutella.Frame{ID: 0x123, Length: 4, Data: [8]uint8{0, 1, 2, 0}})
		return c.Buffer().Len() > 0
	}, waitFor, 20*tick)
	msg, ok := c.Buffer().Pop()
	require.True(t, ok)
	assert.EqualValues(t, 0x123, msg.ID)
	assert.Equal(t, []byte{0, 1, 2, 0}, msg.Data)
	assert.Nil(t, c.Disconnect())
	assert.False(t, c.IsAlive())
}
