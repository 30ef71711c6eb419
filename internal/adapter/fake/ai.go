package fake

import (
	"context"
	"strings"
	"time"

	"github.com/chatmesh/gateway/internal/port"
)

// AIGenerator is a scripted port.AIGenerator: it splits a canned or
// configured reply into word-sized chunks and streams them with a
// small delay, enough to exercise the streaming coordinator's
// chunk/complete/error handling without a real model backend.
type AIGenerator struct {
	ChunkDelay time.Duration
	Reply      string
	FailWith   error
}

func NewAIGenerator() *AIGenerator {
	return &AIGenerator{
		ChunkDelay: 10 * time.Millisecond,
		Reply:      "I'm a stand-in model reply, generated for local development.",
	}
}

func (g *AIGenerator) Stream(ctx context.Context, _, _ string) (<-chan port.AIChunk, <-chan error) {
	chunks := make(chan port.AIChunk)
	done := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(done)

		if g.FailWith != nil {
			done <- g.FailWith
			return
		}

		words := strings.Fields(g.Reply)
		for i, w := range words {
			text := w
			if i < len(words)-1 {
				text += " "
			}
			select {
			case <-ctx.Done():
				done <- port.Wrap(port.KindTimeout, "ai stream canceled", ctx.Err())
				return
			case <-time.After(g.ChunkDelay):
			}
			select {
			case <-ctx.Done():
				done <- port.Wrap(port.KindTimeout, "ai stream canceled", ctx.Err())
				return
			case chunks <- port.AIChunk{Text: text}:
			}
		}
		done <- nil
	}()

	return chunks, done
}
