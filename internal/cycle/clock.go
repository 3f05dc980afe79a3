package cycle

import (
	"time"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// WaitStatus classifies the outcome of a hardware wait.
type WaitStatus int

const (
	// WaitOK means a whole number of periods is ready.
	WaitOK WaitStatus = iota
	// WaitXRun means the transport skipped data; the cycle must be dropped.
	WaitXRun
	// WaitFatal means the transport failed and cannot continue.
	WaitFatal
)

func (s WaitStatus) String() string {
	switch s {
	case WaitOK:
		return "ok"
	case WaitXRun:
		return "xrun"
	default:
		return "fatal"
	}
}

// Timing is the cycle bookkeeping of a clock. All times are in microseconds.
type Timing struct {
	PeriodSize    uint64
	PeriodUsecs   uint64
	WaitLast      uint64 // return time of the previous wait
	WaitNext      uint64 // expected return time of the next wait, 0 when unknown
	WaitLate      uint64 // number of waits entered after WaitNext
	LastValidWake uint64 // return time of the last wait that did not xrun
}

// TimeSource returns a monotonic time in microseconds.
type TimeSource func() uint64

var epoch = time.Now()

// MonotonicMicros is the default TimeSource.
func MonotonicMicros() uint64 {
	return uint64(time.Since(epoch) / time.Microsecond)
}

// Clock measures the hardware wait of each cycle.
type Clock struct {
	timing Timing
	now    TimeSource
}

// NewClock derives the period duration from the period size and sample rate.
func NewClock(periodSize, sampleRate int, now TimeSource) *Clock {
	if now == nil {
		now = MonotonicMicros
	}
	return &Clock{
		timing: Timing{
			PeriodSize:  uint64(periodSize),
			PeriodUsecs: uint64(periodSize) * 1000000 / uint64(sampleRate),
		},
		now: now,
	}
}

// Timing returns a snapshot of the bookkeeping.
func (c *Clock) Timing() Timing { return c.timing }

// LastValidWake returns the return time of the last successful wait.
func (c *Clock) LastValidWake() uint64 { return c.timing.LastValidWake }

// Wait blocks on the transport and returns the number of frames available,
// truncated to a multiple of the period, together with the delay of the wake
// past its expected time. err is only set for WaitFatal.
func (c *Clock) Wait(t contracts.Transport) (frames int, status WaitStatus, delayedUsecs uint64, err error) {
	tm := &c.timing

	if entry := c.now(); entry > tm.WaitNext {
		// entered after the deadline; the delay is not charged to this wait
		tm.WaitNext = 0
		tm.WaitLate++
	}

	ready, werr := t.Wait()

	ret := c.now()
	if tm.WaitNext != 0 && ret > tm.WaitNext {
		delayedUsecs = ret - tm.WaitNext
	}
	tm.WaitLast = ret
	tm.WaitNext = ret + tm.PeriodUsecs

	switch {
	case werr != nil:
		return 0, WaitFatal, delayedUsecs, werr
	case ready < 0:
		return 0, WaitXRun, delayedUsecs, nil
	}

	tm.LastValidWake = ret
	period := int(tm.PeriodSize)
	return ready - ready%period, WaitOK, delayedUsecs, nil
}
