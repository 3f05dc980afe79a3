package cycle

import (
	"errors"
	"testing"

	"github.com/leandrodaf/fwaudio/internal/logger"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrames = 64

func newBridgeFixture(t *testing.T, capture, playback []contracts.StreamKind) (*BufferBridge, *fakeTransport, *fakeGraph, *PortTable) {
	t.Helper()
	tr := newFakeTransport(capture, playback, testFrames)
	g := &fakeGraph{}
	cfg := portConfig()
	cfg.PeriodSize, cfg.EngineBufferSize = testFrames, testFrames

	pt, err := BuildPorts(tr, g, cfg, logger.NewZapLogger())
	require.NoError(t, err)

	b := NewBufferBridge(testFrames)
	b.Bind(tr, g, pt)
	return b, tr, g, pt
}

func allZero(buf []float32) bool {
	for _, v := range buf {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestBufferBridge_ReadBindsCaptureStreams(t *testing.T) {
	b, tr, g, pt := newBridgeFixture(t,
		[]contracts.StreamKind{kAudio, kAudio, kMIDI, kOther},
		[]contracts.StreamKind{kAudio, kOther})
	g.ports[pt.Capture[0].Port].connections = 1

	require.NoError(t, b.Read(testFrames))

	got := tr.lastTransfer(contracts.Capture)
	require.NotNil(t, got)

	connected := got[0]
	assert.Equal(t, contracts.BufferFloat, connected.typ)
	assert.Len(t, connected.buf, testFrames)
	assert.Equal(t, float32(0.5), g.ports[pt.Capture[0].Port].buf[0])

	unconnected, ok := got[1]
	require.True(t, ok)
	assert.Nil(t, unconnected.buf)

	_, touched := got[2]
	assert.False(t, touched, "midi streams are left to the MIDI bridge")

	assert.Equal(t, contracts.BufferUint24, got[3].typ)
	assert.Len(t, got[3].buf, testFrames)

	// other-kind playback streams are fed silence during the read
	assert.Equal(t, contracts.BufferUint24, tr.bound[contracts.Playback][1].typ)
	assert.True(t, allZero(tr.bound[contracts.Playback][1].buf))
	assert.True(t, allZero(b.silence), "silence must never be written")
}

func TestBufferBridge_ReadFallsBackToDiscard(t *testing.T) {
	b, tr, g, pt := newBridgeFixture(t, []contracts.StreamKind{kAudio}, nil)
	g.ports[pt.Capture[0].Port].connections = 2
	g.noBuffer = true

	require.NoError(t, b.Read(testFrames))

	got := tr.lastTransfer(contracts.Capture)[0]
	require.Len(t, got.buf, testFrames)
	assert.Same(t, &b.discard[0], &got.buf[0])
	assert.True(t, allZero(b.silence))
}

func TestBufferBridge_WriteSilenceFill(t *testing.T) {
	b, tr, g, pt := newBridgeFixture(t, nil, []contracts.StreamKind{kAudio, kAudio, kMIDI, kOther})
	src := g.ports[pt.Playback[0].Port]
	src.connections = 1
	for i := range src.buf {
		src.buf[i] = 0.25
	}

	require.NoError(t, b.Write(testFrames))
	got := tr.lastTransfer(contracts.Playback)

	assert.Equal(t, float32(0.25), got[0].buf[0])
	assert.Equal(t, contracts.BufferFloat, got[0].typ)

	require.Len(t, got[1].buf, testFrames)
	assert.True(t, allZero(got[1].buf), "unconnected playback plays silence")
	assert.Same(t, &b.silence[0], &got[1].buf[0])

	_, touched := got[2]
	assert.False(t, touched)

	assert.Equal(t, contracts.BufferUint24, got[3].typ)
	assert.True(t, allZero(got[3].buf))
}

func TestBufferBridge_WriteMissingGraphBuffer(t *testing.T) {
	b, tr, g, pt := newBridgeFixture(t, nil, []contracts.StreamKind{kAudio})
	g.ports[pt.Playback[0].Port].connections = 1
	g.noBuffer = true

	require.NoError(t, b.Write(testFrames))
	got := tr.lastTransfer(contracts.Playback)[0]
	assert.Same(t, &b.silence[0], &got.buf[0])
}

func TestBufferBridge_FrameCount(t *testing.T) {
	b, _, _, _ := newBridgeFixture(t, []contracts.StreamKind{kAudio}, []contracts.StreamKind{kAudio})

	assert.ErrorIs(t, b.Read(testFrames+1), ErrFrameCount)
	assert.ErrorIs(t, b.Write(testFrames+1), ErrFrameCount)
	assert.Equal(t, testFrames, b.Capacity())

	require.NoError(t, b.Read(testFrames/2))
}

func TestBufferBridge_TransportErrors(t *testing.T) {
	b, tr, _, _ := newBridgeFixture(t, []contracts.StreamKind{kAudio}, []contracts.StreamKind{kAudio})

	boom := errors.New("bus reset")
	tr.transferErr = boom
	assert.ErrorIs(t, b.Read(testFrames), boom)
	assert.ErrorIs(t, b.Write(testFrames), boom)

	tr.transferErr = nil
	tr.bindErr = boom
	assert.ErrorIs(t, b.Read(testFrames), boom)
	assert.ErrorIs(t, b.Write(testFrames), boom)
}
