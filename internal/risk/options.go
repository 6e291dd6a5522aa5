package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newsrisk/backend/internal/models"
)

// Options toggles pipeline stages. Use DefaultOptions or ParseOptions; the
// zero value disables everything.
type Options struct {
	TemporalModel        bool `json:"temporal_model"`
	TopicModel           bool `json:"topic_model"`
	RelationExtraction   bool `json:"relation_extraction"`
	UseGenerativeSummary bool `json:"use_generative_summary"`
	RiskClassification   bool `json:"risk_classification"`

	// Progress receives stage names as the run advances. Calls are serialized.
	Progress func(stage string) `json:"-"`
}

func DefaultOptions() Options {
	return Options{
		TemporalModel:        true,
		TopicModel:           true,
		RelationExtraction:   true,
		UseGenerativeSummary: true,
	}
}

var optionSetters = map[string]func(*Options, bool){
	"temporal_model":         func(o *Options, v bool) { o.TemporalModel = v },
	"topic_model":            func(o *Options, v bool) { o.TopicModel = v },
	"relation_extraction":    func(o *Options, v bool) { o.RelationExtraction = v },
	"ner_graph":              func(o *Options, v bool) { o.RelationExtraction = v },
	"use_generative_summary": func(o *Options, v bool) { o.UseGenerativeSummary = v },
	"use_gpt":                func(o *Options, v bool) { o.UseGenerativeSummary = v },
	"risk_classification":    func(o *Options, v bool) { o.RiskClassification = v },
}

// ParseOptions applies flags on top of DefaultOptions. Keys are matched
// case-insensitively; unknown keys fail with models.ErrSchema.
func ParseOptions(flags map[string]bool) (Options, error) {
	opts := DefaultOptions()

	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		set, ok := optionSetters[strings.ToLower(k)]
		if !ok {
			return Options{}, fmt.Errorf("%w: unknown option %q", models.ErrSchema, k)
		}
		set(&opts, flags[k])
	}
	return opts, nil
}

// IsOption reports whether name is a recognized flag or alias.
func IsOption(name string) bool {
	_, ok := optionSetters[strings.ToLower(name)]
	return ok
}

// CacheKey renders the stage toggles in a stable form.
func (o Options) CacheKey() string {
	return fmt.Sprintf("t=%t,m=%t,r=%t,g=%t,c=%t",
		o.TemporalModel, o.TopicModel, o.RelationExtraction, o.UseGenerativeSummary, o.RiskClassification)
}
