//go:build !windows

package seqwindows

import "github.com/leandrodaf/fwaudio/sdk/contracts"

// Open returns an opener that always fails with ErrUnsupported.
func Open(cfg Config) contracts.SequencerOpener {
	return func(string) (contracts.Sequencer, error) {
		if cfg.Logger != nil {
			cfg.Logger.Warn("winmm sequencer requested on a non-Windows system")
		}
		return nil, ErrUnsupported
	}
}
