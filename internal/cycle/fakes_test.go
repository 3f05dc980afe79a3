package cycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

type binding struct {
	buf []float32
	typ contracts.BufferType
}

type waitResult struct {
	frames int
	err    error
}

// fakeTransport records buffer bindings and writes captureValue into every
// bound capture buffer on transfer.
type fakeTransport struct {
	mu           sync.Mutex
	kinds        map[contracts.Direction][]contracts.StreamKind
	bound        map[contracts.Direction]map[int]binding
	history      map[contracts.Direction][]map[int]binding // bindings seen at each transfer
	waits        []waitResult
	period       int
	captureValue float32
	started      int
	stopped      int
	closed       int
	startErr     error
	stopErr      error
	bindErr      error
	transferErr  error
	waitHook     func() // runs inside Wait, before the result is returned
}

func newFakeTransport(capture, playback []contracts.StreamKind, period int) *fakeTransport {
	return &fakeTransport{
		kinds: map[contracts.Direction][]contracts.StreamKind{
			contracts.Capture:  capture,
			contracts.Playback: playback,
		},
		bound: map[contracts.Direction]map[int]binding{
			contracts.Capture:  {},
			contracts.Playback: {},
		},
		history:      map[contracts.Direction][]map[int]binding{},
		period:       period,
		captureValue: 0.5,
	}
}

func (f *fakeTransport) StreamCount(dir contracts.Direction) int { return len(f.kinds[dir]) }

func (f *fakeTransport) StreamKind(dir contracts.Direction, i int) contracts.StreamKind {
	return f.kinds[dir][i]
}

func (f *fakeTransport) StreamName(dir contracts.Direction, i int) string {
	return fmt.Sprintf("%s_%d", dir, i+1)
}

func (f *fakeTransport) SetStreamBuffer(dir contracts.Direction, i int, buf []float32, typ contracts.BufferType) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[dir][i] = binding{buf: buf, typ: typ}
	return nil
}

func (f *fakeTransport) Transfer(dir contracts.Direction) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := map[int]binding{}
	for k, v := range f.bound[dir] {
		snap[k] = v
		if dir == contracts.Capture {
			for j := range v.buf {
				v.buf[j] = f.captureValue
			}
		}
	}
	f.history[dir] = append(f.history[dir], snap)
	return nil
}

func (f *fakeTransport) lastTransfer(dir contracts.Direction) map[int]binding {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.history[dir]
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}

func (f *fakeTransport) Wait() (int, error) {
	if f.waitHook != nil {
		f.waitHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.waits) == 0 {
		return f.period, nil
	}
	r := f.waits[0]
	f.waits = f.waits[1:]
	return r.frames, r.err
}

func (f *fakeTransport) ReadStream(int, []uint32) int  { return 0 }
func (f *fakeTransport) WriteStream(int, []uint32) int { return 0 }

func (f *fakeTransport) Start() error { f.started++; return f.startErr }
func (f *fakeTransport) Stop() error  { f.stopped++; return f.stopErr }
func (f *fakeTransport) Close() error { f.closed++; return nil }

type fakeBackend struct {
	api       int
	transport *fakeTransport
	initErr   error
	opts      contracts.DeviceOptions
}

func (b *fakeBackend) Name() string    { return "fake" }
func (b *fakeBackend) Version() string { return "1.0.0" }
func (b *fakeBackend) APIVersion() int { return b.api }

func (b *fakeBackend) Init(opts contracts.DeviceOptions) (contracts.Transport, error) {
	b.opts = opts
	if b.initErr != nil {
		return nil, b.initErr
	}
	return b.transport, nil
}

type graphPort struct {
	name        string
	flags       contracts.PortFlags
	latency     int
	connections int
	buf         []float32
	released    bool
}

type xrun struct {
	wake    uint64
	delayed float64
}

type fakeGraph struct {
	mu        sync.Mutex
	ports     []*graphPort
	failAfter int // AllocatePort fails once this many ports exist, 0 disables
	noBuffer  bool
	xruns     []xrun
	wakes     []uint64
}

func (g *fakeGraph) AllocatePort(name string, flags contracts.PortFlags, size int) (contracts.PortID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAfter > 0 && len(g.ports) >= g.failAfter {
		return contracts.NoPort, contracts.ErrNoPort
	}
	g.ports = append(g.ports, &graphPort{name: name, flags: flags, buf: make([]float32, size)})
	return contracts.PortID(len(g.ports) - 1), nil
}

func (g *fakeGraph) ReleasePort(id contracts.PortID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.ports[id]
	if p.released {
		return errors.New("double release")
	}
	p.released = true
	return nil
}

func (g *fakeGraph) SetLatency(id contracts.PortID, frames int) { g.ports[id].latency = frames }

func (g *fakeGraph) ConnectionCount(id contracts.PortID) int { return g.ports[id].connections }

func (g *fakeGraph) Buffer(id contracts.PortID, frames int) []float32 {
	if g.noBuffer {
		return nil
	}
	return g.ports[id].buf[:frames]
}

func (g *fakeGraph) NotifyXRun(wake uint64, delayed float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.xruns = append(g.xruns, xrun{wake, delayed})
}

func (g *fakeGraph) CycleIncTime(wake uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wakes = append(g.wakes, wake)
}

func (g *fakeGraph) port(name string) *graphPort {
	for _, p := range g.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (g *fakeGraph) live() int {
	var n int
	for _, p := range g.ports {
		if !p.released {
			n++
		}
	}
	return n
}

// clockSeq returns a time source stepping through the given values and then
// repeating the last one.
func clockSeq(values ...uint64) TimeSource {
	var mu sync.Mutex
	return func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		v := values[0]
		if len(values) > 1 {
			values = values[1:]
		}
		return v
	}
}

var (
	kAudio = contracts.StreamAudio
	kMIDI  = contracts.StreamMIDI
	kOther = contracts.StreamOther
)
