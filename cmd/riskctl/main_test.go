package main

import (
	"errors"
	"testing"

	"github.com/newsrisk/backend/internal/models"
)

func TestOptionsFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
		check   func(t *testing.T, topics, gpt, relations bool)
	}{
		{
			name: "defaults",
			args: []string{"analyze", "x.json"},
			check: func(t *testing.T, topics, gpt, relations bool) {
				if !topics || !gpt || !relations {
					t.Errorf("defaults changed: topics=%t gpt=%t relations=%t", topics, gpt, relations)
				}
			},
		},
		{
			name: "aliases",
			args: []string{"analyze", "x.json", "--set", "topic_model=false,use_gpt=0,ner_graph=false"},
			check: func(t *testing.T, topics, gpt, relations bool) {
				if topics || gpt || relations {
					t.Errorf("toggles not applied: topics=%t gpt=%t relations=%t", topics, gpt, relations)
				}
			},
		},
		{
			name:    "not a boolean",
			args:    []string{"analyze", "x.json", "--set", "topic_model=maybe"},
			wantErr: models.ErrSchema,
		},
		{
			name:    "unknown option",
			args:    []string{"analyze", "x.json", "--set", "sentiment=true"},
			wantErr: models.ErrSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := analyzeCmd()
			cmd.Flags().StringToStringP("set", "s", nil, "")
			if err := cmd.ParseFlags(tt.args[2:]); err != nil {
				t.Fatal(err)
			}

			opts, err := optionsFromFlags(cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, opts.TopicModel, opts.UseGenerativeSummary, opts.RelationExtraction)
		})
	}
}
