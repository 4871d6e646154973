package capability

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/corralproject/corral/pkg/models"
)

// StaticEmbedder produces deterministic hash-bucket embeddings. No model
// service involved; used for tests and offline mode. Identical text always
// maps to the identical unit vector, so index writes stay idempotent.
type StaticEmbedder struct {
	Dim int
}

// NewStaticEmbedder returns an embedder with the given dimensionality
// (default 256).
func NewStaticEmbedder(dim int) *StaticEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &StaticEmbedder{Dim: dim}
}

func (e *StaticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.Dim)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%uint32(e.Dim)] += 1
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= inv
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (e *StaticEmbedder) Model() string   { return "static-hash" }
func (e *StaticEmbedder) Version() string { return "1" }

// StaticGenerator answers with a fixed template. Render receives the prompt
// and returns the answer; a nil Render echoes a short acknowledgement.
type StaticGenerator struct {
	Render func(prompt string) string
}

func (g *StaticGenerator) Generate(_ context.Context, prompt string) (string, error) {
	if g.Render != nil {
		return g.Render(prompt), nil
	}
	return "Based on the provided sources [1], no further detail is available.", nil
}

func (g *StaticGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	answer, _ := g.Generate(ctx, prompt)
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(answer, " ") {
			select {
			case <-ctx.Done():
				return
			case ch <- TextChunk{Text: word}:
			}
		}
	}()
	return ch, nil
}

// StaticCrossEncoder scores pairs by token Jaccard overlap. Deterministic
// stand-in for a served cross-encoder model.
type StaticCrossEncoder struct{}

func (StaticCrossEncoder) ScorePairs(_ context.Context, query string, docs []string) ([]float64, error) {
	q := tokenSet(query)
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		d := tokenSet(doc)
		if len(q) == 0 || len(d) == 0 {
			continue
		}
		inter := 0
		for tok := range q {
			if d[tok] {
				inter++
			}
		}
		union := len(q) + len(d) - inter
		scores[i] = float64(inter) / float64(union)
	}
	return scores, nil
}

func (StaticCrossEncoder) Model() string { return "static-overlap" }

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(tok, ".,;:!?()[]\"'")] = true
	}
	delete(set, "")
	return set
}

// capitalizedRun matches sequences of capitalized words, the surface form of
// the heuristic extractor's entity mentions.
var capitalizedRun = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_-]*(?:\s+[A-Z][A-Za-z0-9_-]*)*\b`)

// heuristicStopwords are sentence-leading words that look like mentions but
// never are.
var heuristicStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "I": true, "It": true, "This": true,
	"That": true, "These": true, "Those": true, "If": true, "In": true,
	"On": true, "At": true, "For": true, "But": true, "And": true, "Or": true,
	"We": true, "He": true, "She": true, "They": true, "You": true,
}

// HeuristicExtractor finds entities as capitalized token runs and relations
// as co-occurrence of consecutive mentions within a sentence. Cheap, fully
// deterministic, and good enough to exercise the graph path without a model.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(_ context.Context, text string) ([]models.Entity, []models.Relation, error) {
	mentions := make(map[string]int)
	var order []string
	var relations []models.Relation

	for _, sentence := range splitSentences(text) {
		var inSentence []string
		for _, surface := range capitalizedRun.FindAllString(sentence, -1) {
			if heuristicStopwords[surface] || len(surface) < 2 {
				continue
			}
			if mentions[surface] == 0 {
				order = append(order, surface)
			}
			mentions[surface]++
			inSentence = append(inSentence, surface)
		}
		for i := 1; i < len(inSentence); i++ {
			if inSentence[i-1] == inSentence[i] {
				continue
			}
			relations = append(relations, models.Relation{
				Source:     models.Entity{Type: "entity", Surface: inSentence[i-1]},
				Target:     models.Entity{Type: "entity", Surface: inSentence[i]},
				Type:       "related_to",
				Confidence: 0.5,
			})
		}
	}

	entities := make([]models.Entity, 0, len(order))
	for _, surface := range order {
		conf := 0.5 + 0.1*float64(mentions[surface])
		if conf > 1 {
			conf = 1
		}
		entities = append(entities, models.Entity{Type: "entity", Surface: surface, Confidence: conf})
	}
	return entities, relations, nil
}

// Surfaces is a convenience for callers that only need the mention set, like
// the reranker's entity-overlap feature.
func Surfaces(entities []models.Entity) map[string]bool {
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[strings.ToLower(e.Surface)] = true
	}
	return set
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}
