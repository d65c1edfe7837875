package analyze

import (
	"path/filepath"
	"strings"
	"time"
)

// maxKeywords bounds the keyword list; minKeywords is padded up to from
// filename tokens so downstream display always has something to show.
const (
	maxKeywords = 10
	minKeywords = 3
)

// normalizeResult coerces the parsed model object into the Result
// contract. Returns ok=false when the object carries nothing usable.
func normalizeResult(obj map[string]any, file FileInfo, folders []SmartFolder) (Result, bool) {
	category, hasCategory := stringField(obj, "category")
	keywords := stringSlice(obj["keywords"])
	if !hasCategory && len(keywords) == 0 {
		return Result{}, false
	}

	res := Result{
		Category:      resolveCategory(category, folders),
		Keywords:      normalizeKeywords(keywords, file.Name),
		SuggestedName: sanitizeName(stringOr(obj, "suggestedName")),
		Purpose:       strings.TrimSpace(stringOr(obj, "purpose")),
		Entities:      stringSlice(obj["entities"]),
		Date:          normalizeDate(stringOr(obj, "date"), file.ModTime),
	}
	res.Confidence = normalizeConfidence(obj["confidence"], res)
	return res, true
}

// resolveCategory maps the model's category onto the supplied folder set.
// Matching is case-insensitive and whitespace-tolerant but the returned
// value is always the folder's own exact name. An unmatchable category
// with folders present resolves to empty; the orchestrator substitutes the
// heuristic choice rather than letting an invented label through.
func resolveCategory(category string, folders []SmartFolder) string {
	category = strings.TrimSpace(category)
	if len(folders) == 0 {
		if category == "" {
			return DefaultCategory
		}
		return category
	}
	for _, f := range folders {
		if strings.EqualFold(strings.TrimSpace(f.Name), category) {
			return f.Name
		}
	}
	return ""
}

// normalizeConfidence keeps an in-range model value, otherwise recomputes
// deterministically from populated fields: vacuous output cannot buy
// confidence, and the recomputed value stays below certainty.
func normalizeConfidence(v any, res Result) int {
	if f, ok := v.(float64); ok && f >= 0 && f <= 100 {
		return int(f)
	}

	score := 55
	if len(res.Keywords) >= minKeywords {
		score += 10
	}
	if res.Purpose != "" {
		score += 10
	}
	if res.SuggestedName != "" {
		score += 10
	}
	if len(res.Entities) > 0 {
		score += 5
	}
	if score > 95 {
		score = 95
	}
	return score
}

func normalizeKeywords(keywords []string, fileName string) []string {
	out := make([]string, 0, maxKeywords)
	seen := make(map[string]bool)
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" || len(k) > 64 {
			continue
		}
		lower := strings.ToLower(k)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, k)
		if len(out) == maxKeywords {
			return out
		}
	}
	if len(out) < minKeywords {
		for _, k := range filenameKeywords(fileName, minKeywords-len(out)) {
			if !seen[strings.ToLower(k)] {
				out = append(out, k)
			}
		}
	}
	return out
}

// filenameKeywords derives up to n keywords from the file name's tokens.
func filenameKeywords(fileName string, n int) []string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' ' || r == '(' || r == ')'
	})
	out := make([]string, 0, n)
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		out = append(out, strings.ToLower(tok))
		if len(out) == n {
			break
		}
	}
	return out
}

// dateLayouts are accepted model date spellings, normalized to calendar
// form.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	time.RFC3339,
}

// normalizeDate coerces the model's date to YYYY-MM-DD, defaulting to the
// file's own modification date when absent or unreadable.
func normalizeDate(s string, modTime time.Time) string {
	s = strings.TrimSpace(s)
	if s != "" && !strings.EqualFold(s, "null") && !strings.EqualFold(s, "unknown") {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02")
			}
		}
	}
	return modTime.Format("2006-01-02")
}

// sanitizeName keeps suggested names filesystem-safe.
func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "")
	s = replacer.Replace(s)
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func stringOr(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

// stringSlice filters a decoded JSON array down to its string members.
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
