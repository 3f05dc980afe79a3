package contracts

// TransportAPIVersion is the transport API revision this driver core was written against.
const TransportAPIVersion = 1

// Direction identifies the side of the transport a stream belongs to.
type Direction int

const (
	// Capture streams carry data from the hardware into the host.
	Capture Direction = iota
	// Playback streams carry data from the host to the hardware.
	Playback
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// StreamKind classifies a physical channel reported by the transport.
type StreamKind int

const (
	// StreamAudio channels are exposed to the graph as audio ports.
	StreamAudio StreamKind = iota
	// StreamMIDI channels are serviced by the MIDI bridge, never by the audio buffer path.
	StreamMIDI
	// StreamOther channels carry opaque data that is silenced or discarded.
	StreamOther
)

func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamMIDI:
		return "midi"
	default:
		return "other"
	}
}

// BufferType tells the transport how to interpret a bound buffer.
type BufferType int

const (
	// BufferFloat buffers hold normalized float32 samples.
	BufferFloat BufferType = iota
	// BufferUint24 buffers hold raw 24-bit words.
	BufferUint24
)

// DeviceOptions are handed to the transport backend when the device is initialized.
type DeviceOptions struct {
	SampleRate         int
	PeriodSize         int
	Buffers            int
	Port               int
	NodeID             int
	Realtime           bool
	PacketizerPriority int
	IgnoreCapture      bool
	IgnorePlayback     bool
	Verbose            bool
}

// TransportBackend is the entry point of a transport library.
type TransportBackend interface {
	Name() string
	Version() string
	APIVersion() int
	Init(opts DeviceOptions) (Transport, error)
}

// Transport is an initialized hardware device. It owns the physical buffers and
// is safe for concurrent use by the audio cycle and the MIDI bridge as long as
// they touch disjoint streams.
type Transport interface {
	// StreamCount returns the number of streams in the given direction.
	StreamCount(dir Direction) int
	// StreamKind returns the classification of a stream.
	StreamKind(dir Direction, stream int) StreamKind
	// StreamName returns the human readable name of a stream.
	StreamName(dir Direction, stream int) string

	// SetStreamBuffer binds buf as the source (playback) or destination (capture)
	// of a stream for the next transfer. A nil buf unbinds the stream.
	SetStreamBuffer(dir Direction, stream int, buf []float32, typ BufferType) error
	// Transfer moves one period between the hardware and all bound buffers.
	Transfer(dir Direction) error

	// Wait blocks until the hardware is ready. A negative frame count reports an
	// xrun; an error reports an unrecoverable failure.
	Wait() (int, error)

	// ReadStream reads raw samples of a capture stream without blocking.
	ReadStream(stream int, buf []uint32) int
	// WriteStream writes raw samples to a playback stream without blocking and
	// returns the number of samples accepted.
	WriteStream(stream int, buf []uint32) int

	Start() error
	Stop() error
	Close() error
}
