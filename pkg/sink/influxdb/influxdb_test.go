package influxdb

import (
	"testing"

	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/stretchr/testify/assert"
)

func TestTags(t *testing.T) {
	msg := datasource.Message{ID: 0x80000123}
	assert.Equal(t, map[string]string{"interface": "vcan0", "can_id": "0x80000123"}, tags(&msg, "vcan0"))
}

func TestFields(t *testing.T) {
	msg := datasource.Message{ID: 0x7FF, Data: []byte{0xDE, 0xAD}, SourceID: 3}
	assert.Equal(t, map[string]any{
		"can_id_decimal": uint64(0x7FF),
		"source_id":      uint64(3),
		"fd":             false,
		"length":         int64(2),
		"data":           "dead",
	}, fields(&msg))
}

func TestNewDefaults(t *testing.T) {
	w, err := New(Config{URL: "http://localhost:8181", Token: "token", Database: "can"}, nil)
	assert.Nil(t, err)
	defer w.Close()
	assert.Equal(t, DefaultMeasurement, w.measurement)
	assert.Equal(t, "source7", w.names.Get(7))
}
