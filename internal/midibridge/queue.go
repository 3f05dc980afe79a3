package midibridge

import (
	"context"
)

// queueLoop forwards sequencer events to the playback MIDI streams.
func (b *Bridge) queueLoop(ctx context.Context) {
	b.log.Debug("MIDI queue task running")
	defer b.log.Debug("MIDI queue task exiting")

	timer := newPollTimer()
	defer timer.Stop()

	for {
		b.drainSequencer(ctx)

		if !b.pause(ctx, timer) {
			return
		}
	}
}

// drainSequencer handles every event the sequencer has pending.
func (b *Bridge) drainSequencer(ctx context.Context) {
	for ctx.Err() == nil {
		ev, ok, err := b.seq.ReadEvent()
		if err != nil {
			b.log.Error("MIDI sequencer read failed", b.log.Field().Error("error", err))
			return
		}
		if !ok {
			return
		}

		port := b.outputByEndpoint(ev.Dest)
		if port == nil {
			b.log.Error(ErrUnknownDestination.Error(), b.log.Field().Int("endpoint", int(ev.Dest)))
			continue
		}

		n, err := port.codec.Encode(ev.Message, port.work)
		if err != nil {
			b.log.Error("MIDI event dropped",
				b.log.Field().String("port", port.Name),
				b.log.Field().Error("error", err))
			continue
		}

		b.send(port, port.work[:n])
	}
}

// send writes encoded bytes one word at a time. On the first rejected byte the
// rest of the event is abandoned.
func (b *Bridge) send(port *Port, data []byte) {
	for i, c := range data {
		port.word[0] = uint32(c)
		if b.transport.WriteStream(port.Stream, port.word) != 1 {
			b.log.Error(ErrSendOverrun.Error(),
				b.log.Field().String("port", port.Name),
				b.log.Field().Int("dropped", len(data)-i))
			// the peer lost part of a message; resend the status next time
			port.codec.ResetEncoder()
			return
		}
	}
}
