package midibridge

import (
	"context"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
)

// dequeueLoop publishes bytes read from the capture MIDI streams to the sequencer.
func (b *Bridge) dequeueLoop(ctx context.Context) {
	b.log.Debug("MIDI dequeue task running")
	defer b.log.Debug("MIDI dequeue task exiting")

	timer := newPollTimer()
	defer timer.Stop()

	for {
		for _, p := range b.inputs {
			if ctx.Err() != nil {
				return
			}
			if p.Enabled() {
				b.drainStream(ctx, p)
			}
		}

		if !b.pause(ctx, timer) {
			return
		}
	}
}

func (b *Bridge) drainStream(ctx context.Context, p *Port) {
	for ctx.Err() == nil {
		n := b.transport.ReadStream(p.Stream, p.rbuf)
		if n <= 0 {
			return
		}

		for _, w := range p.rbuf[:n] {
			msg, ok, err := p.codec.Decode(byte(w & 0xFF))
			if err != nil {
				b.log.Error("MIDI input byte dropped",
					b.log.Field().String("port", p.Name),
					b.log.Field().Error("error", err))
				continue
			}
			if !ok {
				continue
			}

			ev := contracts.SeqEvent{
				Source:      p.Endpoint,
				Dest:        contracts.InvalidEndpoint,
				Message:     msg,
				Direct:      true,
				Subscribers: true,
			}
			if err := b.seq.EmitDirect(ev); err != nil {
				b.log.Error("MIDI event not delivered",
					b.log.Field().String("port", p.Name),
					b.log.Field().Error("error", err))
			}
		}
	}
}
