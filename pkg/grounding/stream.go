package grounding

import (
	"context"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
)

// Stream runs the streaming path. The returned channel closes after a
// terminal frame with Done=true, which every exit path emits: the citations
// frame on success and refusal, a cancelled frame on context cancellation,
// an error frame on stream failure. Callers must drain until close.
func (g *Generator) Stream(ctx context.Context, query string, sources []models.Candidate) (<-chan models.Frame, error) {
	out := make(chan models.Frame, 16)

	score := EvidenceScore(sources)
	if score < g.opts.MinEvidenceScore {
		go func() {
			defer close(out)
			out <- models.Frame{Type: models.FrameAnswer, Content: RefusalText}
			out <- models.Frame{Type: models.FrameCitations, Content: []models.Citation{}, Done: true}
		}()
		return out, nil
	}

	stream, err := g.llm.GenerateStream(ctx, buildPrompt(query, BuildContext(sources)))
	if err != nil {
		return nil, err
	}
	citations := ContextCitations(sources)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				out <- models.Frame{Type: models.FrameCancelled, Content: "query cancelled", Done: true}
				return
			case chunk, ok := <-stream:
				if !ok {
					out <- models.Frame{Type: models.FrameCitations, Content: citations, Done: true}
					return
				}
				switch c := chunk.(type) {
				case capability.TextChunk:
					out <- models.Frame{Type: models.FrameAnswer, Content: c.Text}
				case capability.ErrorChunk:
					out <- models.Frame{Type: models.FrameError, Content: c.Message, Done: true}
					return
				}
			}
		}
	}()
	return out, nil
}
