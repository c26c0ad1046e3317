package core

import (
	"sort"
	"strings"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// CategoryUnknown is assigned when no strategy recognises a document.
const CategoryUnknown = "unknown"

// Classification is a classifier's answer for one document.
type Classification struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	Confidence  float64 `json:"confidence"`
	Strategy    string  `json:"strategy,omitempty"`
}

// Classifier assigns a category to every document. Implementations must be
// total: unrecognised documents get CategoryUnknown, never an error.
type Classifier interface {
	Classify(doc model.Document) Classification
}

// Strategy is one pluggable classification method, selected by document signature.
type Strategy interface {
	Name() string
	Supports(doc model.Document) bool
	Classify(doc model.Document) Classification
}

// ClassifierChain runs every strategy that supports a document and keeps the
// most confident answer. Earlier strategies win ties.
type ClassifierChain struct {
	strategies []Strategy
}

// NewClassifierChain builds a chain from strategies in priority order.
func NewClassifierChain(strategies ...Strategy) *ClassifierChain {
	return &ClassifierChain{strategies: strategies}
}

// DefaultClassifier classifies by preset category, content keywords, then file name.
func DefaultClassifier() *ClassifierChain {
	return NewClassifierChain(PresetStrategy{}, KeywordStrategy{}, FilenameStrategy{})
}

// Classify implements Classifier.
func (c *ClassifierChain) Classify(doc model.Document) Classification {
	best := Classification{Category: CategoryUnknown}
	for _, s := range c.strategies {
		if !s.Supports(doc) {
			continue
		}
		got := s.Classify(doc)
		if got.Category == "" || got.Category == CategoryUnknown {
			continue
		}
		if got.Confidence > best.Confidence {
			got.Strategy = s.Name()
			best = got
		}
	}

	if best.Subcategory == "" {
		if dt, ok := Get(best.Category); ok {
			best.Subcategory = dt.Subcategory
		}
	}
	return best
}

// PresetStrategy trusts a category the source already assigned.
type PresetStrategy struct{}

func (PresetStrategy) Name() string { return "preset" }

func (PresetStrategy) Supports(doc model.Document) bool { return doc.Category != "" }

func (PresetStrategy) Classify(doc model.Document) Classification {
	return Classification{Category: doc.Category, Subcategory: doc.Subcategory, Confidence: 1.0}
}

// KeywordStrategy matches registered document type keywords against the payload.
type KeywordStrategy struct{}

func (KeywordStrategy) Name() string { return "keyword" }

func (KeywordStrategy) Supports(doc model.Document) bool { return len(doc.RawPayload) > 0 }

// Classify scores each type by the share of its keywords found in the payload
// keys and values. One hit scores 0.4; all keywords score 0.95.
func (KeywordStrategy) Classify(doc model.Document) Classification {
	haystack := payloadText(doc)

	best := Classification{Category: CategoryUnknown}
	for _, dt := range All() {
		if len(dt.Keywords) == 0 {
			continue
		}
		hits := 0
		for _, kw := range dt.Keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := 0.4 + 0.55*float64(hits-1)/float64(max(len(dt.Keywords)-1, 1))
		if conf > best.Confidence {
			best = Classification{Category: dt.Key, Subcategory: dt.Subcategory, Confidence: conf}
		}
	}
	return best
}

// FilenameStrategy matches registered filename patterns.
type FilenameStrategy struct{}

func (FilenameStrategy) Name() string { return "filename" }

func (FilenameStrategy) Supports(doc model.Document) bool { return doc.FileName != "" }

func (FilenameStrategy) Classify(doc model.Document) Classification {
	name := strings.ToLower(doc.FileName)
	for _, dt := range All() {
		for _, p := range dt.FilenamePatterns {
			if strings.Contains(name, strings.ToLower(p)) {
				return Classification{Category: dt.Key, Subcategory: dt.Subcategory, Confidence: 0.7}
			}
		}
	}
	return Classification{Category: CategoryUnknown}
}

// ScoreFunc is a pluggable scoring model: it returns a category and confidence.
type ScoreFunc func(doc model.Document) (category string, confidence float64)

// ScoreStrategy adapts a scoring model (e.g. a trained classifier) to the chain.
type ScoreStrategy struct {
	Label string
	Score ScoreFunc
}

func (s ScoreStrategy) Name() string {
	if s.Label == "" {
		return "score"
	}
	return s.Label
}

func (s ScoreStrategy) Supports(model.Document) bool { return s.Score != nil }

func (s ScoreStrategy) Classify(doc model.Document) Classification {
	category, conf := s.Score(doc)
	return Classification{Category: category, Confidence: min(max(conf, 0), 1)}
}

// payloadText flattens payload keys and values into one lowercase string,
// in key order so results do not depend on map iteration.
func payloadText(doc model.Document) string {
	keys := make([]string, 0, len(doc.RawPayload))
	for k := range doc.RawPayload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strings.ToLower(k))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(doc.Text(k)))
		b.WriteByte('\n')
	}
	return b.String()
}
