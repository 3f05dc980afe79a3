package seqwindows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want uint32
	}{
		{"note on", []byte{0x90, 0x3C, 0x64}, 0x643C90},
		{"program change", []byte{0xC1, 0x05}, 0x05C1},
		{"clock", []byte{0xF8}, 0xF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := shortMessage(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w)
		})
	}

	_, err := shortMessage([]byte{0xF0, 0x7E, 0xF7})
	assert.ErrorIs(t, err, ErrSysExNotSupported)
	_, err = shortMessage(nil)
	assert.ErrorIs(t, err, ErrSysExNotSupported)
}

func TestUnpackShortMessage(t *testing.T) {
	assert.Equal(t, [3]byte{0x80, 0x3C, 0x00}, unpackShortMessage(0x003C80))
}
