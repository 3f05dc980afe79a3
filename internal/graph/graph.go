// Package graph is an in-memory audio graph: named mono ports with fixed size
// buffers, directed connections from output to input ports and the cycle
// statistics a driver reports.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-audio/audio"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

var (
	// ErrDuplicatePort is returned when a port name is already taken.
	ErrDuplicatePort = errors.New("port name already in use")
	// ErrUnknownPort is returned for an id or name with no live port.
	ErrUnknownPort = errors.New("unknown port")
	// ErrConnect is returned when two ports cannot be connected.
	ErrConnect = errors.New("cannot connect ports")
)

// Stats summarizes what the driver reported to the graph.
type Stats struct {
	Cycles       uint64
	XRuns        uint64
	LastWake     uint64  // wake time of the last cycle, in microseconds
	MaxDelayed   float64 // largest reported xrun delay, in microseconds
	LastXRunWake uint64
}

type port struct {
	name    string
	flags   contracts.PortFlags
	latency int
	buf     *audio.Float32Buffer
	sources []contracts.PortID // connected outputs, only for input ports
	sinks   int                // connected inputs, only for output ports
}

func (p *port) isInput() bool { return p.flags&contracts.PortIsInput != 0 }

// Graph implements contracts.Graph.
type Graph struct {
	mu     sync.RWMutex
	format *audio.Format
	ports  []*port // indexed by PortID, nil once released
	byName map[string]contracts.PortID
	stats  Stats
	log    contracts.Logger
}

var _ contracts.Graph = (*Graph)(nil)

// New creates an empty graph whose port buffers carry sampleRate.
func New(sampleRate int, log contracts.Logger) *Graph {
	return &Graph{
		format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		byName: make(map[string]contracts.PortID),
		log:    log,
	}
}

// AllocatePort registers a port with a buffer of bufferSize frames.
func (g *Graph) AllocatePort(name string, flags contracts.PortFlags, bufferSize int) (contracts.PortID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byName[name]; ok {
		return contracts.NoPort, fmt.Errorf("%w: %w: %s", contracts.ErrNoPort, ErrDuplicatePort, name)
	}
	if bufferSize <= 0 {
		return contracts.NoPort, fmt.Errorf("%w: buffer size %d", contracts.ErrNoPort, bufferSize)
	}

	p := &port{
		name:  name,
		flags: flags,
		buf:   &audio.Float32Buffer{Format: g.format, Data: make([]float32, bufferSize), SourceBitDepth: 32},
	}
	id := contracts.PortID(len(g.ports))
	g.ports = append(g.ports, p)
	g.byName[name] = id

	if g.log != nil {
		g.log.Debug("port allocated",
			g.log.Field().String("port", name),
			g.log.Field().Int("id", int(id)),
			g.log.Field().Int("frames", bufferSize))
	}
	return id, nil
}

// ReleasePort removes a port and every connection it takes part in.
func (g *Graph) ReleasePort(id contracts.PortID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.lookup(id)
	if err != nil {
		return err
	}

	if p.isInput() {
		for _, src := range p.sources {
			if s := g.ports[src]; s != nil {
				s.sinks--
			}
		}
	} else {
		for _, q := range g.ports {
			if q != nil && q.isInput() {
				q.sources = removeID(q.sources, id)
			}
		}
	}

	g.ports[id] = nil
	delete(g.byName, p.name)
	return nil
}

// SetLatency records the latency of a port in frames. Unknown ids are ignored.
func (g *Graph) SetLatency(id contracts.PortID, frames int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, err := g.lookup(id); err == nil {
		p.latency = frames
	}
}

// Latency returns the latency set on a port.
func (g *Graph) Latency(id contracts.PortID) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	return p.latency, nil
}

// ConnectionCount returns the number of connections of a port.
func (g *Graph) ConnectionCount(id contracts.PortID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, err := g.lookup(id)
	if err != nil {
		return 0
	}
	if p.isInput() {
		return len(p.sources)
	}
	return p.sinks
}

// Buffer returns the first frames samples of a port buffer. Output ports return
// their own buffer. An input port with a single source returns the source
// buffer; with several sources the sources are summed into its own buffer.
func (g *Graph) Buffer(id contracts.PortID, frames int) []float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, err := g.lookup(id)
	if err != nil || frames < 0 || frames > len(p.buf.Data) {
		return nil
	}
	if !p.isInput() || len(p.sources) == 0 {
		return p.buf.Data[:frames]
	}
	if len(p.sources) == 1 {
		return g.ports[p.sources[0]].buf.Data[:frames]
	}

	dst := p.buf.Data[:frames]
	clear(dst)
	for _, src := range p.sources {
		for i, v := range g.ports[src].buf.Data[:frames] {
			dst[i] += v
		}
	}
	return dst
}

// PortBuffer returns the whole buffer of a port.
func (g *Graph) PortBuffer(id contracts.PortID) (*audio.Float32Buffer, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.buf, nil
}

// Connect routes output port src into input port dst.
func (g *Graph) Connect(src, dst string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sid, s, err := g.byNameLocked(src)
	if err != nil {
		return err
	}
	did, d, err := g.byNameLocked(dst)
	if err != nil {
		return err
	}
	if s.isInput() || !d.isInput() {
		return fmt.Errorf("%w: %s is not an output or %s is not an input", ErrConnect, src, dst)
	}
	for _, id := range d.sources {
		if id == sid {
			return fmt.Errorf("%w: %s already feeds %s", ErrConnect, src, dst)
		}
	}

	d.sources = append(d.sources, sid)
	s.sinks++
	if g.log != nil {
		g.log.Debug("ports connected",
			g.log.Field().String("source", src),
			g.log.Field().String("destination", dst),
			g.log.Field().Int("destination_id", int(did)))
	}
	return nil
}

// Disconnect removes a connection made by Connect.
func (g *Graph) Disconnect(src, dst string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sid, s, err := g.byNameLocked(src)
	if err != nil {
		return err
	}
	_, d, err := g.byNameLocked(dst)
	if err != nil {
		return err
	}

	n := len(d.sources)
	d.sources = removeID(d.sources, sid)
	if len(d.sources) == n {
		return fmt.Errorf("%w: %s is not connected to %s", ErrConnect, src, dst)
	}
	s.sinks--
	return nil
}

// PortByName returns the id of a live port.
func (g *Graph) PortByName(name string) (contracts.PortID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byName[name]
	return id, ok
}

// Ports returns the names of live ports carrying all of flags, in allocation order.
func (g *Graph) Ports(flags contracts.PortFlags) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var names []string
	for _, p := range g.ports {
		if p != nil && p.flags&flags == flags {
			names = append(names, p.name)
		}
	}
	return names
}

// NotifyXRun records a skipped cycle.
func (g *Graph) NotifyXRun(lastWakeUsecs uint64, delayedUsecs float64) {
	g.mu.Lock()
	g.stats.XRuns++
	g.stats.LastXRunWake = lastWakeUsecs
	if delayedUsecs > g.stats.MaxDelayed {
		g.stats.MaxDelayed = delayedUsecs
	}
	g.mu.Unlock()

	if g.log != nil {
		g.log.Warn("xrun",
			g.log.Field().Uint64("last_wake_usecs", lastWakeUsecs),
			g.log.Field().Float64("delayed_usecs", delayedUsecs))
	}
}

// CycleIncTime records the start of a cycle.
func (g *Graph) CycleIncTime(wakeUsecs uint64) {
	g.mu.Lock()
	g.stats.Cycles++
	g.stats.LastWake = wakeUsecs
	g.mu.Unlock()
}

// Stats returns a snapshot of the cycle statistics.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats
}

func (g *Graph) lookup(id contracts.PortID) (*port, error) {
	if id < 0 || int(id) >= len(g.ports) || g.ports[id] == nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownPort, id)
	}
	return g.ports[id], nil
}

func (g *Graph) byNameLocked(name string) (contracts.PortID, *port, error) {
	id, ok := g.byName[name]
	if !ok {
		return contracts.NoPort, nil, fmt.Errorf("%w: %s", ErrUnknownPort, name)
	}
	return id, g.ports[id], nil
}

func removeID(ids []contracts.PortID, id contracts.PortID) []contracts.PortID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
