package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedClock Timestamp

func (c fixedClock) Now() Timestamp { return Timestamp(c) }

func TestParseStrategy(t *testing.T) {
	for name, expected := range map[string]Strategy{
		"Software": Software,
		"Hardware": Hardware,
		"Polling":  Polling,
	} {
		strategy, err := ParseStrategy(name)
		assert.Nil(t, err)
		assert.Equal(t, expected, strategy)
		assert.Equal(t, name, strategy.String())
	}
	_, err := ParseStrategy("software")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestResolve(t *testing.T) {
	clock := fixedClock(5000)
	kernel := Kernel{Software: 1000, Hardware: 20}
	assert.EqualValues(t, 1000, Software.Resolve(kernel, clock))
	assert.EqualValues(t, 20, Hardware.Resolve(kernel, clock))
	assert.EqualValues(t, 5000, Polling.Resolve(kernel, clock))
}

func TestResolveFallback(t *testing.T) {
	clock := fixedClock(5000)
	assert.EqualValues(t, 5000, Software.Resolve(Kernel{Hardware: 20}, clock))
	assert.EqualValues(t, 5000, Hardware.Resolve(Kernel{Software: 1000}, clock))
	assert.EqualValues(t, 5000, Strategy(42).Resolve(Kernel{Software: 1000}, clock))
}

func TestConversions(t *testing.T) {
	assert.EqualValues(t, 1_500, FromUnix(1, 500_000_000))
	assert.EqualValues(t, 0, FromUnix(-1, 0))
	assert.EqualValues(t, 0, FromTime(time.Time{}))
	now := time.UnixMilli(1_700_000_000_123)
	assert.EqualValues(t, 1_700_000_000_123, FromTime(now))
	assert.True(t, now.Equal(FromTime(now).Time()))
	assert.NotZero(t, SystemClock.Now())
}
