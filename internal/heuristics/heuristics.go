// Package heuristics classifies files from filename and extension alone.
// It is the network-free branch of the pipeline: a pure function of
// (filename, extension, folder set) that always produces a category.
package heuristics

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/kalambet/sortd/internal/analyze"
)

// Scoring weights for folder matching. The scale is an unbounded weighted
// sum; only its ordering and the minimum threshold matter.
const (
	weightFolderName  = 10
	weightNameToken   = 5
	weightKeyword     = 8
	weightTag         = 6
	weightDescription = 2
	weightPathSegment = 3
	weightConcept     = 8
)

// Config tunes the classifier.
type Config struct {
	// MinScore is the minimum weighted folder score that wins outright.
	MinScore int
}

// Classifier scores configured folders against a filename and falls back
// to built-in keyword and extension tables.
type Classifier struct {
	minScore int
}

// New creates a Classifier. A non-positive MinScore takes the default.
func New(cfg Config) *Classifier {
	if cfg.MinScore <= 0 {
		cfg.MinScore = 5
	}
	return &Classifier{minScore: cfg.MinScore}
}

// Classify produces a category, keywords, and a confidence in [60, 75]
// without any I/O. The ladder: best folder above the minimum score, then
// the topical keyword table, then the extension table. The category is
// never empty.
func (c *Classifier) Classify(fileName string, folders []analyze.SmartFolder) analyze.Result {
	ext := strings.ToLower(filepath.Ext(fileName))
	base := strings.ToLower(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	tokens := tokenize(base)

	if name, score := c.bestFolder(base, tokens, ext, folders); score >= c.minScore {
		conf := 60 + score
		if conf > 75 {
			conf = 75
		}
		return analyze.Result{
			Category:   name,
			Keywords:   keywordsFrom(tokens),
			Confidence: conf,
		}
	}

	if cat := topicalCategory(base); cat != "" {
		return analyze.Result{
			Category:   matchFolderName(cat, folders),
			Keywords:   keywordsFrom(tokens),
			Confidence: 65,
		}
	}

	cat := extensionCategory(ext)
	if cat == "" {
		cat = analyze.DefaultCategory
	}
	return analyze.Result{
		Category:   matchFolderName(cat, folders),
		Keywords:   keywordsFrom(tokens),
		Confidence: 60,
	}
}

// bestFolder returns the highest-scoring folder name and its score. Ties
// break on folder name so the result is stable across calls.
func (c *Classifier) bestFolder(base string, tokens []string, ext string, folders []analyze.SmartFolder) (string, int) {
	bestName := ""
	bestScore := 0
	for _, f := range folders {
		score := scoreFolder(base, tokens, ext, f)
		if score > bestScore || (score == bestScore && score > 0 && f.Name < bestName) {
			bestName = f.Name
			bestScore = score
		}
	}
	return bestName, bestScore
}

func scoreFolder(base string, tokens []string, ext string, f analyze.SmartFolder) int {
	score := 0
	folderName := strings.ToLower(f.Name)

	if folderName != "" && strings.Contains(base, folderName) {
		score += weightFolderName
	}
	for _, w := range tokenize(folderName) {
		if containsToken(tokens, w) || strings.Contains(base, w) {
			score += weightNameToken
		}
	}
	for _, k := range f.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(base, k) {
			score += weightKeyword
		}
	}
	for _, tag := range f.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && strings.Contains(base, tag) {
			score += weightTag
		}
	}
	for _, w := range tokenize(strings.ToLower(f.Description)) {
		if len(w) >= 4 && containsToken(tokens, w) {
			score += weightDescription
		}
	}
	for _, seg := range strings.Split(strings.ToLower(f.Path), string(filepath.Separator)) {
		for _, w := range tokenize(seg) {
			if containsToken(tokens, w) {
				score += weightPathSegment
			}
		}
	}

	// Extension concepts let e.g. an .stl file score against a folder
	// whose text evokes 3D printing even with zero filename overlap.
	if concept := conceptForExt(ext); concept != nil {
		folderText := strings.ToLower(f.Name + " " + f.Description + " " + strings.Join(f.Keywords, " ") + " " + strings.Join(f.Tags, " "))
		for _, hint := range concept.hints {
			if strings.Contains(folderText, hint) {
				score += weightConcept
				break
			}
		}
	}
	return score
}

// matchFolderName maps a built-in category onto an equally-named configured
// folder when one exists, so callers comparing against the folder set see
// the folder's exact spelling.
func matchFolderName(category string, folders []analyze.SmartFolder) string {
	for _, f := range folders {
		if strings.EqualFold(f.Name, category) {
			return f.Name
		}
	}
	return category
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && !('A' <= r && r <= 'Z')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, strings.ToLower(f))
		}
	}
	return out
}

func containsToken(tokens []string, w string) bool {
	for _, t := range tokens {
		if t == w {
			return true
		}
	}
	return false
}

func keywordsFrom(tokens []string) []string {
	out := make([]string, 0, 5)
	seen := make(map[string]bool)
	for _, t := range tokens {
		if len(t) < 3 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	sort.Strings(out)
	return out
}
