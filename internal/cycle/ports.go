package cycle

import (
	"errors"
	"fmt"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"go.uber.org/multierr"
)

// DefaultPortCapacity bounds the number of audio ports registered per direction.
const DefaultPortCapacity = 256

var (
	// ErrPortCapacity is returned when a direction exposes more audio streams than allowed.
	ErrPortCapacity = errors.New("too many audio streams")
	// ErrNoAudioStreams is returned when the device exposes no audio stream at all.
	ErrNoAudioStreams = errors.New("device exposes no audio streams")
)

// PortBinding ties one transport stream to its graph port.
type PortBinding struct {
	Stream    int
	Direction contracts.Direction
	Kind      contracts.StreamKind
	Name      string
	Port      contracts.PortID // contracts.NoPort for streams without a graph port
	Latency   int
}

// Registered reports whether the binding has a graph port.
func (b PortBinding) Registered() bool { return b.Port != contracts.NoPort }

// PortConfig is what the port table needs to know to register ports.
type PortConfig struct {
	ClientName       string
	PeriodSize       int
	Buffers          int
	CaptureLatency   int
	PlaybackLatency  int
	EngineBufferSize int
	SyncMode         bool
	Capacity         int
	Capture          bool
	Playback         bool
}

// captureLatency is the latency reported for capture ports.
func (c PortConfig) captureLatency() int {
	return c.PeriodSize + c.CaptureLatency
}

// playbackLatency is the latency reported for playback ports. Asynchronous
// mode adds one engine buffer of output latency.
func (c PortConfig) playbackLatency() int {
	l := c.PeriodSize*(c.Buffers-1) + c.PlaybackLatency
	if !c.SyncMode {
		l += c.EngineBufferSize
	}
	return l
}

// PortTable holds one binding per transport stream, in stream order.
type PortTable struct {
	Capture  []PortBinding
	Playback []PortBinding

	graph contracts.Graph
}

// BuildPorts registers a graph port for every audio stream of t. Other stream
// kinds get a binding without a port. On error every registered port is released.
func BuildPorts(t contracts.Transport, g contracts.Graph, cfg PortConfig, log contracts.Logger) (*PortTable, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultPortCapacity
	}

	pt := &PortTable{graph: g}
	var audio int

	for _, dir := range []contracts.Direction{contracts.Capture, contracts.Playback} {
		enabled, flags, latency := cfg.Capture, contracts.PortIsOutput, cfg.captureLatency()
		if dir == contracts.Playback {
			enabled, flags, latency = cfg.Playback, contracts.PortIsInput, cfg.playbackLatency()
		}
		flags |= contracts.PortIsPhysical | contracts.PortIsTerminal

		n := t.StreamCount(dir)
		bindings := make([]PortBinding, 0, n)
		var count int

		for i := 0; i < n; i++ {
			b := PortBinding{
				Stream:    i,
				Direction: dir,
				Kind:      t.StreamKind(dir, i),
				Name:      fmt.Sprintf("%s:%s", cfg.ClientName, t.StreamName(dir, i)),
				Port:      contracts.NoPort,
			}

			if b.Kind != contracts.StreamAudio {
				log.Debug("stream not registered as a port",
					log.Field().String("port", b.Name),
					log.Field().String("direction", dir.String()),
					log.Field().String("kind", b.Kind.String()))
				bindings = append(bindings, b)
				continue
			}

			count++
			audio++
			if count > cfg.Capacity {
				pt.setBindings(dir, bindings)
				return nil, multierr.Append(
					fmt.Errorf("%w: %s has more than %d", ErrPortCapacity, dir, cfg.Capacity),
					pt.Release())
			}

			if enabled {
				id, err := g.AllocatePort(b.Name, flags, cfg.EngineBufferSize)
				if err != nil {
					pt.setBindings(dir, bindings)
					return nil, multierr.Append(
						fmt.Errorf("registering %s port %q: %w", dir, b.Name, err),
						pt.Release())
				}
				g.SetLatency(id, latency)
				b.Port = id
				b.Latency = latency
			}
			bindings = append(bindings, b)
		}

		pt.setBindings(dir, bindings)
	}

	if audio == 0 {
		return nil, multierr.Append(ErrNoAudioStreams, pt.Release())
	}
	return pt, nil
}

func (pt *PortTable) setBindings(dir contracts.Direction, b []PortBinding) {
	if dir == contracts.Capture {
		pt.Capture = b
	} else {
		pt.Playback = b
	}
}

// Bindings returns the bindings of one direction.
func (pt *PortTable) Bindings(dir contracts.Direction) []PortBinding {
	if dir == contracts.Capture {
		return pt.Capture
	}
	return pt.Playback
}

// AudioCount returns the number of audio streams in one direction.
func (pt *PortTable) AudioCount(dir contracts.Direction) int {
	var n int
	for _, b := range pt.Bindings(dir) {
		if b.Kind == contracts.StreamAudio {
			n++
		}
	}
	return n
}

// Release unregisters every graph port. It is safe to call more than once.
func (pt *PortTable) Release() error {
	var err error
	for _, bindings := range [][]PortBinding{pt.Capture, pt.Playback} {
		for i := range bindings {
			if !bindings[i].Registered() {
				continue
			}
			err = multierr.Append(err, pt.graph.ReleasePort(bindings[i].Port))
			bindings[i].Port = contracts.NoPort
		}
	}
	return err
}
