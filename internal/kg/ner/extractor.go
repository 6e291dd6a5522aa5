// Package ner extracts verb-entity relation triplets from news text.
package ner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/newsrisk/backend/internal/models"
	"github.com/newsrisk/backend/pkg/logger"
)

const (
	RelationObject  = "dobj"
	RelationSubject = "nsubj"
)

// DefaultEntityTypes are the entity labels that take part in relations.
var DefaultEntityTypes = []string{"PERSON", "NORP", "FAC", "ORG", "EVENT", "LAW"}

// Extractor tags each text once with a prose model loaded on first use and
// shared by every later call.
type Extractor struct {
	entityTypes map[string]struct{}
	tag         func(text string) ([]prose.Token, error)

	modelOnce sync.Once
	model     *prose.Model
}

func NewExtractor(entityTypes []string) *Extractor {
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}
	types := make(map[string]struct{}, len(entityTypes))
	for _, t := range entityTypes {
		types[strings.ToUpper(t)] = struct{}{}
	}
	e := &Extractor{entityTypes: types}
	e.tag = e.proseTokens
	return e
}

// ExtractVerbTriplets tags every text and links each entity token of an
// accepted type to a verb in its sentence. A verb before the entity makes it
// the object; otherwise the first verb after it makes it the subject.
func (e *Extractor) ExtractVerbTriplets(ctx context.Context, texts []string) (models.Triplets, error) {
	triplets := models.Triplets{}

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tokens, err := e.tag(text)
		if err != nil {
			return nil, fmt.Errorf("failed to tag text %d: %w", i, err)
		}

		for _, sentence := range sentences(tokens) {
			triplets = append(triplets, e.fromTokens(sentence)...)
		}
	}

	logger.Debug("Relation triplets extracted",
		zap.Int("texts", len(texts)),
		zap.Int("triplets", len(triplets)),
	)

	return triplets, nil
}

func (e *Extractor) sharedModel() *prose.Model {
	e.modelOnce.Do(func() {
		// an empty document only loads the tagger and entity models
		doc, err := prose.NewDocument("", prose.WithSegmentation(false))
		if err == nil {
			e.model = doc.Model
		}
	})
	return e.model
}

func (e *Extractor) proseTokens(text string) ([]prose.Token, error) {
	opts := []prose.DocOpt{prose.WithSegmentation(false)}
	if m := e.sharedModel(); m != nil {
		opts = append(opts, prose.UsingModel(m))
	}
	doc, err := prose.NewDocument(text, opts...)
	if err != nil {
		return nil, err
	}
	return doc.Tokens(), nil
}

// sentences splits tagged tokens after every sentence-final mark. prose tags
// ".", "?" and "!" as ".".
func sentences(tokens []prose.Token) [][]prose.Token {
	var out [][]prose.Token
	start := 0
	for i, tok := range tokens {
		if tok.Tag == "." || tok.Text == "." || tok.Text == "?" || tok.Text == "!" {
			if i+1 > start {
				out = append(out, tokens[start:i+1])
			}
			start = i + 1
		}
	}
	if start < len(tokens) {
		out = append(out, tokens[start:])
	}
	return out
}

func (e *Extractor) fromTokens(tokens []prose.Token) []models.Triplet {
	var out []models.Triplet
	for i, tok := range tokens {
		if _, ok := e.entityTypes[entityType(tok.Label)]; !ok {
			continue
		}

		if v := previousVerb(tokens, i); v >= 0 {
			out = append(out, models.Triplet{Subject: tokens[v].Text, Relation: RelationObject, Object: tok.Text})
			continue
		}
		if v := nextVerb(tokens, i); v >= 0 {
			out = append(out, models.Triplet{Subject: tokens[v].Text, Relation: RelationSubject, Object: tok.Text})
		}
	}
	return out
}

// entityType strips the IOB prefix from a prose label ("B-PERSON" → "PERSON").
func entityType(label string) string {
	if label == "" || label == "O" {
		return ""
	}
	if i := strings.IndexByte(label, '-'); i >= 0 {
		return label[i+1:]
	}
	return label
}

func isVerb(tok prose.Token) bool {
	return strings.HasPrefix(tok.Tag, "VB")
}

func previousVerb(tokens []prose.Token, i int) int {
	for j := i - 1; j >= 0; j-- {
		if isVerb(tokens[j]) {
			return j
		}
	}
	return -1
}

func nextVerb(tokens []prose.Token, i int) int {
	for j := i + 1; j < len(tokens); j++ {
		if isVerb(tokens[j]) {
			return j
		}
	}
	return -1
}
