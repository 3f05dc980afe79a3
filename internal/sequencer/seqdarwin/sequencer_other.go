//go:build !darwin

package seqdarwin

import "github.com/leandrodaf/fwaudio/sdk/contracts"

// Open returns an opener that always fails with ErrUnsupported.
func Open(cfg Config) contracts.SequencerOpener {
	return func(string) (contracts.Sequencer, error) {
		if cfg.Logger != nil {
			cfg.Logger.Warn("CoreMIDI sequencer requested on a non-macOS system")
		}
		return nil, ErrUnsupported
	}
}
