package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/multierr"
)

const recordBitDepth = 24

var errNoChannels = errors.New("nothing to record")

// recorder writes the capture port buffers to an interleaved PCM WAV file.
type recorder struct {
	file    *os.File
	enc     *wav.Encoder
	sources []*audio.Float32Buffer
	out     *audio.IntBuffer
	scale   float32
	frames  int
}

func newRecorder(path string, sampleRate int, sources []*audio.Float32Buffer) (*recorder, error) {
	if len(sources) == 0 {
		return nil, errNoChannels
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	return &recorder{
		file:    f,
		enc:     wav.NewEncoder(f, sampleRate, recordBitDepth, len(sources), 1),
		sources: sources,
		out: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: len(sources), SampleRate: sampleRate},
			SourceBitDepth: recordBitDepth,
		},
		scale: float32(audio.IntMaxSignedValue(recordBitDepth)),
	}, nil
}

// capture appends the first frames samples of every source.
func (r *recorder) capture(frames int) error {
	n := frames * len(r.sources)
	if cap(r.out.Data) < n {
		r.out.Data = make([]int, n)
	}
	r.out.Data = r.out.Data[:n]

	for c, src := range r.sources {
		data := src.Data
		for i := 0; i < frames; i++ {
			var v float32
			if i < len(data) {
				v = data[i]
			}
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			r.out.Data[i*len(r.sources)+c] = int(v * r.scale)
		}
	}

	if err := r.enc.Write(r.out); err != nil {
		return fmt.Errorf("writing wav: %w", err)
	}
	r.frames += frames
	return nil
}

// Frames returns the number of frames written so far.
func (r *recorder) Frames() int { return r.frames }

func (r *recorder) Close() error {
	return multierr.Append(r.enc.Close(), r.file.Close())
}
