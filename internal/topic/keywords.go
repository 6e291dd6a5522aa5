package topic

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

// Tokenizer splits a document into candidate keywords.
type Tokenizer func(text string) []string

// ProseTokens tokenizes with prose and keeps lower-cased words of two or more
// letters or digits that are not English stop words.
func ProseTokens(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return filterTokens(strings.Fields(text))
	}

	raw := make([]string, 0, len(doc.Tokens()))
	for _, tok := range doc.Tokens() {
		raw = append(raw, tok.Text)
	}
	return filterTokens(raw)
}

func filterTokens(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimFunc(t, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if len([]rune(t)) < 2 || !isWord(t) {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isWord(t string) bool {
	for _, r := range t {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}

type weightedTerm struct {
	term   string
	weight float64
}

// classKeywords scores terms per class with class-based TF-IDF: term counts
// are L1-normalized within a class and weighted by log(1 + A/f), where A is
// the average number of terms per class and f the term's total frequency.
// Each class gets at most topN terms, highest weight first.
func classKeywords(classDocs map[int][]string, tokenize Tokenizer, topN int) map[int][]string {
	counts := make(map[int]map[string]float64, len(classDocs))
	totals := make(map[string]float64)
	var allTerms float64

	for class, docs := range classDocs {
		tf := make(map[string]float64)
		for _, doc := range docs {
			for _, tok := range tokenize(doc) {
				tf[tok]++
				totals[tok]++
				allTerms++
			}
		}
		counts[class] = tf
	}

	avg := 0.0
	if len(classDocs) > 0 {
		avg = allTerms / float64(len(classDocs))
	}

	keywords := make(map[int][]string, len(classDocs))
	for class, tf := range counts {
		var classTotal float64
		for _, n := range tf {
			classTotal += n
		}

		terms := make([]weightedTerm, 0, len(tf))
		for term, n := range tf {
			w := (n / classTotal) * math.Log(1+avg/totals[term])
			terms = append(terms, weightedTerm{term: term, weight: w})
		}
		sort.Slice(terms, func(i, j int) bool {
			if terms[i].weight != terms[j].weight {
				return terms[i].weight > terms[j].weight
			}
			return terms[i].term < terms[j].term
		})

		if len(terms) > topN {
			terms = terms[:topN]
		}
		words := make([]string, len(terms))
		for i, t := range terms {
			words[i] = t.term
		}
		keywords[class] = words
	}

	return keywords
}

var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		a about above after again against all also am an and any are aren't as at
		be because been before being below between both but by can cannot could
		did do does doing down during each few for from further had has have having
		he her here hers herself him himself his how i if in into is it its itself
		just me more most my myself no nor not now of off on once only or other our
		ours ourselves out over own same she should so some such than that the their
		theirs them themselves then there these they this those through to too under
		until up very was we were what when where which while who whom why will with
		would you your yours yourself yourselves 's said says new`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()
