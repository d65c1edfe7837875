package extract

import (
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// skipElements are HTML elements whose text content carries no
// classification signal.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
}

// extractMarkup strips tags from HTML and XML-ish files with the streaming
// tokenizer. The tokenizer recovers from malformed markup instead of
// failing, which suits files saved by browsers and office exporters.
func (e *Extractor) extractMarkup(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, newError(KindIO, path, "Check that the file is readable.", err)
	}
	defer f.Close()

	z := html.NewTokenizer(io.LimitReader(f, int64(e.cfg.MaxTextLen)*8))
	var sb strings.Builder
	skipDepth := 0

	for sb.Len() < e.cfg.MaxTextLen*4 {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a tokenizer bail-out; either way, keep what we have.
			text := strings.TrimSpace(sb.String())
			if text == "" {
				return Result{}, newError(KindEmpty, path, "No readable text found in the markup.", nil)
			}
			return Result{Text: text, Method: MethodContent}, nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipElements[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipElements[string(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
	}

	return Result{Text: strings.TrimSpace(sb.String()), Method: MethodContent}, nil
}
