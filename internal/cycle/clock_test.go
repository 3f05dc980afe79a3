package cycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClock_PeriodUsecs(t *testing.T) {
	tests := []struct {
		period, rate int
		want         uint64
	}{
		{1024, 48000, 21333},
		{256, 44100, 5804},
		{64, 96000, 666},
		{48, 48000, 1000},
	}
	for _, tt := range tests {
		c := NewClock(tt.period, tt.rate, nil)
		assert.Equal(t, tt.want, c.Timing().PeriodUsecs)
		assert.EqualValues(t, tt.period, c.Timing().PeriodSize)
	}
}

func TestClock_TruncatesToWholePeriods(t *testing.T) {
	tests := []struct {
		ready int
		want  int
	}{
		{256, 256},
		{300, 256},
		{511, 256},
		{512, 512},
		{100, 0},
	}
	for _, tt := range tests {
		tr := newFakeTransport(nil, nil, 256)
		tr.waits = []waitResult{{frames: tt.ready}}
		c := NewClock(256, 48000, clockSeq(0, 10))

		frames, status, _, err := c.Wait(tr)
		require.NoError(t, err)
		assert.Equal(t, WaitOK, status)
		assert.Equal(t, tt.want, frames, "ready %d", tt.ready)
		assert.Zero(t, frames%256)
	}
}

func TestClock_FirstWaitIsLate(t *testing.T) {
	tr := newFakeTransport(nil, nil, 48)
	c := NewClock(48, 48000, clockSeq(5, 100))

	_, status, delayed, err := c.Wait(tr)
	require.NoError(t, err)
	assert.Equal(t, WaitOK, status)
	assert.Zero(t, delayed)

	tm := c.Timing()
	assert.EqualValues(t, 1, tm.WaitLate)
	assert.EqualValues(t, 100, tm.WaitLast)
	assert.EqualValues(t, 1100, tm.WaitNext)
	assert.EqualValues(t, 100, tm.LastValidWake)
}

func TestClock_DelayAndLateness(t *testing.T) {
	tr := newFakeTransport(nil, nil, 48)
	// period is 1000us; entry/return pairs per wait
	c := NewClock(48, 48000, clockSeq(
		1, 1000, // first wait: late, WaitNext becomes 2000
		1500, 2300, // on time entry, wakes 300us past WaitNext
		3500, 3600, // entry after WaitNext 3300: late, delay not charged
	))

	_, _, _, err := c.Wait(tr)
	require.NoError(t, err)

	_, status, delayed, err := c.Wait(tr)
	require.NoError(t, err)
	assert.Equal(t, WaitOK, status)
	assert.EqualValues(t, 300, delayed)
	assert.EqualValues(t, 1, c.Timing().WaitLate)

	_, _, delayed, err = c.Wait(tr)
	require.NoError(t, err)
	assert.Zero(t, delayed)
	assert.EqualValues(t, 2, c.Timing().WaitLate)
	assert.EqualValues(t, 4600, c.Timing().WaitNext)
}

func TestClock_XRunKeepsLastValidWake(t *testing.T) {
	tr := newFakeTransport(nil, nil, 48)
	tr.waits = []waitResult{{frames: 48}, {frames: -1}}
	c := NewClock(48, 48000, clockSeq(0, 1000, 1500, 2700))

	_, _, _, err := c.Wait(tr)
	require.NoError(t, err)

	frames, status, delayed, err := c.Wait(tr)
	require.NoError(t, err)
	assert.Equal(t, WaitXRun, status)
	assert.Zero(t, frames)
	assert.EqualValues(t, 700, delayed)
	assert.EqualValues(t, 1000, c.LastValidWake())
	assert.EqualValues(t, 2700, c.Timing().WaitLast)
}

func TestClock_Fatal(t *testing.T) {
	boom := errors.New("device gone")
	tr := newFakeTransport(nil, nil, 48)
	tr.waits = []waitResult{{err: boom}}
	c := NewClock(48, 48000, clockSeq(0, 1))

	frames, status, _, err := c.Wait(tr)
	assert.Equal(t, WaitFatal, status)
	assert.Zero(t, frames)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.LastValidWake())
}

func TestWaitStatus_String(t *testing.T) {
	assert.Equal(t, "ok", WaitOK.String())
	assert.Equal(t, "xrun", WaitXRun.String())
	assert.Equal(t, "fatal", WaitFatal.String())
}
