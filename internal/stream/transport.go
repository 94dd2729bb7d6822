package stream

import (
	"context"
	"io"

	"trellis-api/internal/shared"

	"go.uber.org/zap"
)

// Transport drives a lazily produced event sequence into a writable sink,
// frame by frame as events arrive. It is the last line of defense between the
// pipeline and the wire: encode failures are reported in-band, and a dead sink
// cancels the producer instead of letting it burn through remaining stages.
type Transport struct {
	enc   *Encoder
	w     io.Writer
	flush func()
	log   *zap.SugaredLogger
}

func NewTransport(enc *Encoder, w io.Writer, flush func(), log *zap.SugaredLogger) *Transport {
	if flush == nil {
		flush = func() {}
	}
	return &Transport{enc: enc, w: w, flush: flush, log: log}
}

// Stream consumes events until the channel closes, then writes the stream
// terminator. On a failed write it calls cancel, drains the channel so the
// producer can exit, and returns without a terminator — the channel to the
// client is presumed gone.
func (t *Transport) Stream(ctx context.Context, cancel context.CancelFunc, events <-chan Event) error {
	for ev := range events {
		frame, err := t.enc.Encode(ev)
		if err != nil {
			t.log.Errorw("failed to encode event", "error", err)
			frame, err = t.enc.Encode(Error{Step: shared.StepStreaming, Message: "failed to encode event"})
			if err != nil {
				continue
			}
		}
		if _, err := t.w.Write(frame); err != nil {
			t.log.Warnw("client write failed, aborting stream", "error", err)
			cancel()
			drain(events)
			return err
		}
		t.flush()
		if ctx.Err() != nil {
			cancel()
			drain(events)
			return ctx.Err()
		}
	}
	if _, err := t.w.Write(t.enc.Terminator()); err != nil {
		return err
	}
	t.flush()
	return nil
}

func drain(events <-chan Event) {
	for range events {
	}
}
