package extract

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
)

// extractPlainText streams the file through a bounded reader. Large files
// are never fully buffered; reading stops as soon as the output cap is
// reached.
func (e *Extractor) extractPlainText(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, newError(KindIO, path, "Check that the file is readable.", err)
	}
	defer f.Close()

	// Four bytes per rune upper bound; the final cap trims to runes.
	limited := io.LimitReader(f, int64(e.cfg.MaxTextLen)*4)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Result{}, newError(KindIO, path, "", err)
	}

	text := strings.ToValidUTF8(string(data), "")
	if strings.TrimSpace(text) == "" {
		return Result{}, newError(KindEmpty, path, "The file is empty.", nil)
	}
	return Result{Text: text, Method: MethodContent}, nil
}

// extractCSV reads up to MaxRows records, joining fields with tabs. Ragged
// rows are tolerated; a hard parse failure mid-file returns what was read
// so far rather than discarding it.
func (e *Extractor) extractCSV(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, newError(KindIO, path, "Check that the file is readable.", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		r.Comma = '\t'
	}

	var sb strings.Builder
	rows := 0
	for rows < e.cfg.MaxRows {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				break
			}
			return Result{}, newError(KindParse, path, "The CSV file could not be parsed.", err)
		}
		sb.WriteString(strings.Join(record, "\t"))
		sb.WriteByte('\n')
		rows++
		if sb.Len() >= e.cfg.MaxTextLen*4 {
			break
		}
	}

	if sb.Len() == 0 {
		return Result{}, newError(KindEmpty, path, "The file is empty.", nil)
	}
	return Result{Text: sb.String(), Method: MethodContent}, nil
}
