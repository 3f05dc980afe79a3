package contracts

// Driver is the capability set an engine uses to run a hardware backend.
type Driver interface {
	Open(cfg DriverConfig) error // Validates the backend and sizes the cycle buffers.
	Close() error                // Releases everything acquired by Open.
	Attach() error               // Initializes the device and registers ports.
	Detach() error               // Finishes the device and releases ports.
	Start() error                // Starts streaming (and the MIDI bridge).
	Stop() error                 // Stops streaming (and the MIDI bridge).
	Read() error                 // Waits for the hardware and pulls one period of capture data.
	Write() error                // Pushes one period of playback data.
	SetBufferSize(frames int) error
}
