package cycle

import (
	"errors"
	"fmt"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// ErrFrameCount is returned when a cycle asks for more frames than the scratch buffers hold.
var ErrFrameCount = errors.New("frame count exceeds buffer capacity")

// BufferBridge binds graph buffers to transport streams every cycle. Streams
// without a usable graph buffer read from a silence buffer or write into a
// discard buffer, so the transport always has somewhere to move data.
type BufferBridge struct {
	transport contracts.Transport
	graph     contracts.Graph
	ports     *PortTable

	silence []float32 // never written to
	discard []float32 // capture sink for data nobody reads
}

// NewBufferBridge allocates scratch buffers for up to frames frames per cycle.
func NewBufferBridge(frames int) *BufferBridge {
	return &BufferBridge{
		silence: make([]float32, frames),
		discard: make([]float32, frames),
	}
}

// Bind attaches the bridge to an initialized transport and its port table.
func (b *BufferBridge) Bind(t contracts.Transport, g contracts.Graph, ports *PortTable) {
	b.transport, b.graph, b.ports = t, g, ports
}

// Unbind detaches the bridge from the transport.
func (b *BufferBridge) Unbind() {
	b.transport, b.graph, b.ports = nil, nil, nil
}

// Capacity returns the largest frame count a cycle may use.
func (b *BufferBridge) Capacity() int { return len(b.silence) }

// Release drops the scratch buffers.
func (b *BufferBridge) Release() {
	b.silence, b.discard = nil, nil
}

// Read binds capture destinations and pulls n frames from the hardware.
func (b *BufferBridge) Read(n int) error {
	if n > len(b.silence) {
		return fmt.Errorf("%w: %d > %d", ErrFrameCount, n, len(b.silence))
	}
	silence, discard := b.silence[:n], b.discard[:n]

	// other-kind playback streams are fed from silence during the read as well
	for _, p := range b.ports.Playback {
		if p.Kind == contracts.StreamOther {
			if err := b.transport.SetStreamBuffer(contracts.Playback, p.Stream, silence, contracts.BufferUint24); err != nil {
				return fmt.Errorf("binding playback stream %d: %w", p.Stream, err)
			}
		}
	}

	for _, p := range b.ports.Capture {
		var err error
		switch p.Kind {
		case contracts.StreamAudio:
			var buf []float32
			if p.Registered() && b.graph.ConnectionCount(p.Port) > 0 {
				if buf = b.graph.Buffer(p.Port, n); buf == nil {
					buf = discard
				}
			}
			// unconnected streams are explicitly unbound
			err = b.transport.SetStreamBuffer(contracts.Capture, p.Stream, buf, contracts.BufferFloat)
		case contracts.StreamOther:
			err = b.transport.SetStreamBuffer(contracts.Capture, p.Stream, discard, contracts.BufferUint24)
		}
		if err != nil {
			return fmt.Errorf("binding capture stream %d: %w", p.Stream, err)
		}
	}

	if err := b.transport.Transfer(contracts.Capture); err != nil {
		return fmt.Errorf("capture transfer: %w", err)
	}
	return nil
}

// Write binds playback sources and pushes n frames to the hardware.
func (b *BufferBridge) Write(n int) error {
	if n > len(b.silence) {
		return fmt.Errorf("%w: %d > %d", ErrFrameCount, n, len(b.silence))
	}
	silence := b.silence[:n]

	for _, p := range b.ports.Playback {
		var err error
		switch p.Kind {
		case contracts.StreamAudio:
			// silence first, so a stream never plays stale data
			if err = b.transport.SetStreamBuffer(contracts.Playback, p.Stream, silence, contracts.BufferFloat); err != nil {
				break
			}
			if p.Registered() && b.graph.ConnectionCount(p.Port) > 0 {
				buf := b.graph.Buffer(p.Port, n)
				if buf == nil {
					buf = silence
				}
				err = b.transport.SetStreamBuffer(contracts.Playback, p.Stream, buf, contracts.BufferFloat)
			}
		case contracts.StreamOther:
			err = b.transport.SetStreamBuffer(contracts.Playback, p.Stream, silence, contracts.BufferUint24)
		}
		if err != nil {
			return fmt.Errorf("binding playback stream %d: %w", p.Stream, err)
		}
	}

	if err := b.transport.Transfer(contracts.Playback); err != nil {
		return fmt.Errorf("playback transfer: %w", err)
	}
	return nil
}
