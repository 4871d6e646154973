// Package grounding turns reranked candidates into answers with citations.
// An evidence gate refuses thin contexts outright; otherwise the model is
// prompted against a numbered source block and the answer's [i] references
// are resolved back to citations.
package grounding

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
)

// RefusalText is the fixed insufficient-evidence response.
const RefusalText = "I don't have enough information to answer that question."

// DefaultMinEvidence gates generation.
const DefaultMinEvidence = 0.7

// evidenceSaturation is the total evidence length at which the score hits 1.
const evidenceSaturation = 10000.0

// Options tune the gate. A zero MinEvidenceScore means the default.
type Options struct {
	MinEvidenceScore float64
}

// Generator produces grounded answers.
type Generator struct {
	llm    capability.Generator
	opts   Options
	logger *slog.Logger
}

func New(llm capability.Generator, opts Options, logger *slog.Logger) *Generator {
	if opts.MinEvidenceScore == 0 {
		opts.MinEvidenceScore = DefaultMinEvidence
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: llm, opts: opts, logger: logger}
}

// EvidenceScore maps total context length into [0,1], saturating at 1.
func EvidenceScore(cands []models.Candidate) float64 {
	total := 0
	for _, c := range cands {
		total += len(c.Text)
	}
	score := float64(total) / evidenceSaturation
	if score > 1 {
		return 1
	}
	return score
}

// BuildContext renders the numbered source block, [i] starting at 1. Edge
// pseudo-chunks already carry their validity rendering in Text.
func BuildContext(cands []models.Candidate) string {
	var b strings.Builder
	for i, c := range cands {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Text)
	}
	return b.String()
}

func buildPrompt(query, contextBlock string) string {
	return fmt.Sprintf(
		"Answer the question using only the numbered sources below. "+
			"Cite every claim with the source number in square brackets, like [1]. "+
			"If the sources do not contain the answer, say so.\n\n"+
			"Sources:\n%s\nQuestion: %s\n\nAnswer:", contextBlock, query)
}

var citationRef = regexp.MustCompile(`\[(\d+)\]`)

// ExtractCitations scans the answer for [i] references and resolves each
// unique in-range index, in first-appearance order, to its context entry.
func ExtractCitations(answer string, sources []models.Candidate) []models.Citation {
	out := make([]models.Citation, 0, 4)
	seen := make(map[int]bool)
	for _, m := range citationRef.FindAllStringSubmatch(answer, -1) {
		i, err := strconv.Atoi(m[1])
		if err != nil || i < 1 || i > len(sources) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, citationFor(sources[i-1]))
	}
	return out
}

// ContextCitations renders every context entry as a citation, in context
// order. Streaming clients get this list up front, independent of which
// sources the answer ends up citing.
func ContextCitations(sources []models.Candidate) []models.Citation {
	out := make([]models.Citation, 0, len(sources))
	for _, c := range sources {
		out = append(out, citationFor(c))
	}
	return out
}

func citationFor(c models.Candidate) models.Citation {
	if c.Type == models.CandidateEdge {
		return models.Citation{
			RefType:    "edge",
			EdgeID:     c.ID,
			Relation:   c.Relation,
			Validity:   &models.Validity{Start: c.ValidFrom, End: c.ValidTo},
			SourceTool: c.SourceTool,
		}
	}
	cit := models.Citation{
		RefType:    "chunk",
		ChunkID:    c.ID,
		DocID:      c.DocID,
		SourceTool: c.SourceTool,
	}
	if !c.TsSource.IsZero() {
		ts := c.TsSource
		cit.TsSource = &ts
	}
	return cit
}

// Answer runs the non-streaming path. Insufficient evidence is a normal
// response carrying the refusal text, not an error.
func (g *Generator) Answer(ctx context.Context, query string, sources []models.Candidate) (*models.Answer, error) {
	score := EvidenceScore(sources)
	if score < g.opts.MinEvidenceScore {
		g.logger.Info("insufficient evidence, refusing",
			"evidence_score", score, "min", g.opts.MinEvidenceScore)
		return &models.Answer{
			Answer:                RefusalText,
			Citations:             []models.Citation{},
			HasSufficientEvidence: false,
			EvidenceScore:         score,
		}, nil
	}

	text, err := g.llm.Generate(ctx, buildPrompt(query, BuildContext(sources)))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &models.Answer{
		Answer:                text,
		Citations:             ExtractCitations(text, sources),
		HasSufficientEvidence: true,
		EvidenceScore:         score,
	}, nil
}
