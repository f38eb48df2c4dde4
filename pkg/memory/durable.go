package memory

import (
	"context"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
)

// Transcript is the persistence a Durable memory writes through to. *store.Store implements it.
type Transcript interface {
	Append(ctx context.Context, sessionID string, msgs ...llm.Message) error
	List(ctx context.Context, sessionID string) ([]llm.Message, error)
	Replace(ctx context.Context, sessionID string, msgs []llm.Message) error
}

// Durable is a Buffer whose every change is first written to a Transcript. The buffer is
// only updated once the write succeeded, so the two never diverge.
type Durable struct {
	*Buffer
	transcript Transcript
	session    string
}

var _ agent.Memory = (*Durable)(nil)

// NewDurable binds buf to the session's transcript. A stored transcript wins over whatever buf
// was seeded with; otherwise the seed is persisted.
func NewDurable(ctx context.Context, buf *Buffer, t Transcript, sessionID string) (*Durable, error) {
	d := &Durable{Buffer: buf, transcript: t, session: sessionID}
	stored, err := t.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return d, buf.Set(ctx, stored)
	}
	seed, err := buf.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(seed) > 0 {
		if err := t.Replace(ctx, sessionID, seed); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Session reports the transcript key.
func (d *Durable) Session() string { return d.session }

func (d *Durable) Put(ctx context.Context, msg llm.Message) error {
	if err := d.transcript.Append(ctx, d.session, msg); err != nil {
		return err
	}
	return d.Buffer.Put(ctx, msg)
}

func (d *Durable) Set(ctx context.Context, msgs []llm.Message) error {
	if err := d.transcript.Replace(ctx, d.session, msgs); err != nil {
		return err
	}
	return d.Buffer.Set(ctx, msgs)
}

func (d *Durable) Reset(ctx context.Context) error {
	if err := d.transcript.Replace(ctx, d.session, nil); err != nil {
		return err
	}
	return d.Buffer.Reset(ctx)
}
