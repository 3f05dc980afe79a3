package contracts

import "errors"

// PortID is a graph port handle.
type PortID int

// NoPort marks a binding without a graph port.
const NoPort PortID = -1

// ErrNoPort is returned by a graph that cannot allocate a port.
var ErrNoPort = errors.New("cannot allocate port")

// PortFlags describe a graph port the way the engine sees it.
type PortFlags uint32

const (
	// PortIsInput ports consume data (hardware playback side).
	PortIsInput PortFlags = 1 << iota
	// PortIsOutput ports produce data (hardware capture side).
	PortIsOutput
	// PortIsPhysical ports correspond to a hardware channel.
	PortIsPhysical
	// PortIsTerminal ports are data endpoints.
	PortIsTerminal
)

// EngineControl carries the engine settings the driver depends on.
type EngineControl struct {
	BufferSize int
	SampleRate int
	RealTime   bool
	Priority   int
	SyncMode   bool
	Verbose    bool
}

// Graph is the audio graph engine the driver feeds.
type Graph interface {
	AllocatePort(name string, flags PortFlags, bufferSize int) (PortID, error)
	ReleasePort(id PortID) error
	SetLatency(id PortID, frames int)

	// ConnectionCount returns the number of active connections of a port.
	ConnectionCount(id PortID) int
	// Buffer returns the port buffer for this cycle, or nil when unavailable.
	Buffer(id PortID, frames int) []float32

	// NotifyXRun reports a skipped cycle with the last valid wake time and the
	// measured delay, both in microseconds.
	NotifyXRun(lastWakeUsecs uint64, delayedUsecs float64)
	// CycleIncTime advances the cycle time counter at the start of a cycle.
	CycleIncTime(wakeUsecs uint64)
}
