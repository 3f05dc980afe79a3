//go:build linux && (amd64 || arm64)

package alsapcm

import "github.com/gen2brain/alsa"

func init() {
	openPCM = openHW
}

func openHW(cfg pcmConfig) (pcmDevice, error) {
	flags := alsa.PCM_OUT
	if cfg.Capture {
		flags = alsa.PCM_IN
	}
	pcm, err := alsa.PcmOpen(cfg.Card, cfg.Device, flags|alsa.PCM_MONOTONIC, &alsa.Config{
		Channels:    cfg.Channels,
		Rate:        cfg.Rate,
		PeriodSize:  cfg.PeriodSize,
		PeriodCount: cfg.PeriodCount,
		Format:      alsa.PCM_FORMAT_S32_LE,
	})
	if err != nil {
		return nil, err
	}
	return hwPCM{pcm}, nil
}

// hwPCM adapts *alsa.PCM, whose Read/Write return only an error (they fail
// unless the whole buffer is transferred), to pcmDevice.
type hwPCM struct{ *alsa.PCM }

func (p hwPCM) Read(data any) (int, error) {
	if err := p.PCM.Read(data); err != nil {
		return 0, err
	}
	return p.frames(data), nil
}

func (p hwPCM) Write(data any) (int, error) {
	if err := p.PCM.Write(data); err != nil {
		return 0, err
	}
	return p.frames(data), nil
}

func (p hwPCM) frames(data any) int {
	if s, ok := data.([]int32); ok {
		return int(alsa.PcmBytesToFrames(p.PCM, uint32(len(s)*4)))
	}
	return 0
}
