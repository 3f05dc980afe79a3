//go:build !darwin

package seqdarwin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpen_Unsupported(t *testing.T) {
	seq, err := Open(Config{})("fwaudio MIDI")
	assert.Nil(t, seq)
	assert.ErrorIs(t, err, ErrUnsupported)
}
