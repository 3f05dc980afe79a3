package midibridge

import (
	"sync"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// fakeTransport exposes configurable streams. Playback MIDI words are
// recorded, capture MIDI words are served from per-stream queues.
type fakeTransport struct {
	mu       sync.Mutex
	kinds    map[contracts.Direction][]contracts.StreamKind
	written  map[int][]uint32
	accept   map[int]int // remaining words a playback stream accepts, -1 for unlimited
	incoming map[int][]uint32
}

func newFakeTransport(capture, playback []contracts.StreamKind) *fakeTransport {
	return &fakeTransport{
		kinds: map[contracts.Direction][]contracts.StreamKind{
			contracts.Capture:  capture,
			contracts.Playback: playback,
		},
		written:  map[int][]uint32{},
		accept:   map[int]int{},
		incoming: map[int][]uint32{},
	}
}

func (f *fakeTransport) StreamCount(dir contracts.Direction) int { return len(f.kinds[dir]) }

func (f *fakeTransport) StreamKind(dir contracts.Direction, stream int) contracts.StreamKind {
	return f.kinds[dir][stream]
}

func (f *fakeTransport) StreamName(dir contracts.Direction, stream int) string {
	return dir.String() + "_" + f.kinds[dir][stream].String() + "_" + string(rune('0'+stream))
}

func (f *fakeTransport) SetStreamBuffer(contracts.Direction, int, []float32, contracts.BufferType) error {
	return nil
}

func (f *fakeTransport) Transfer(contracts.Direction) error { return nil }
func (f *fakeTransport) Wait() (int, error)                 { return 0, nil }
func (f *fakeTransport) Start() error                       { return nil }
func (f *fakeTransport) Stop() error                        { return nil }
func (f *fakeTransport) Close() error                       { return nil }

func (f *fakeTransport) ReadStream(stream int, buf []uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(buf, f.incoming[stream])
	f.incoming[stream] = f.incoming[stream][n:]
	return n
}

func (f *fakeTransport) WriteStream(stream int, buf []uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(buf)
	if limit, ok := f.accept[stream]; ok && limit >= 0 {
		if n > limit {
			n = limit
		}
		f.accept[stream] = limit - n
	}
	f.written[stream] = append(f.written[stream], buf[:n]...)
	return n
}

func (f *fakeTransport) feed(stream int, data ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range data {
		f.incoming[stream] = append(f.incoming[stream], uint32(b)|0xAB00)
	}
}

func (f *fakeTransport) writtenBytes(stream int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.written[stream]))
	for i, w := range f.written[stream] {
		out[i] = byte(w)
	}
	return out
}
