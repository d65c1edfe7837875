package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"os"
	"strings"
	"unicode"
)

// officeParts maps each zip-packaged format to the archive members holding
// its text and the XML elements whose character data is the text.
var officeParts = map[Format]struct {
	parts    []string // exact names or prefix globs ending in *
	textElem map[string]bool
}{
	FormatDocx: {
		parts:    []string{"word/document.xml"},
		textElem: map[string]bool{"t": true},
	},
	FormatXlsx: {
		parts:    []string{"xl/sharedStrings.xml"},
		textElem: map[string]bool{"t": true},
	},
	FormatPptx: {
		parts:    []string{"ppt/slides/slide*"},
		textElem: map[string]bool{"t": true},
	},
	FormatODT: {
		parts:    []string{"content.xml"},
		textElem: map[string]bool{"p": true, "h": true, "span": true},
	},
}

// extractOffice handles the zip-packaged office formats and the legacy OLE
// containers. The structured parse is primary; if the XML is unreadable the
// extraction degrades to an archive entry listing rather than failing.
func (e *Extractor) extractOffice(ctx context.Context, path string, format Format) (Result, error) {
	if format == FormatLegacy {
		return e.extractLegacyOffice(path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, newError(KindParse, path, "The document container could not be opened; it may be corrupted.", err)
	}
	defer zr.Close()

	spec := officeParts[format]
	var sb strings.Builder
	matched := 0

	for _, zf := range zr.File {
		if ctx.Err() != nil {
			return Result{}, newError(KindTimeout, path, "", ctx.Err())
		}
		if !matchesPart(zf.Name, spec.parts) {
			continue
		}
		matched++
		if err := e.collectXMLText(zf, spec.textElem, &sb); err != nil {
			e.logger.Debug("office xml parse failed, degrading to listing", "path", path, "part", zf.Name, "error", err)
			return e.listingFromZip(&zr.Reader)
		}
		if sb.Len() >= e.cfg.MaxTextLen*4 {
			break
		}
	}

	if matched == 0 {
		// Not the structure we expected. Still an archive, so list it.
		return e.listingFromZip(&zr.Reader)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Result{}, newError(KindEmpty, path, "The document contains no extractable text.", nil)
	}
	return Result{Text: text, Method: MethodContent}, nil
}

// collectXMLText streams one archive member through the XML tokenizer and
// appends character data found inside the named elements. Rows are capped
// for spreadsheet-scale parts.
func (e *Extractor) collectXMLText(zf *zip.File, textElem map[string]bool, sb *strings.Builder) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	depth := 0
	entries := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if textElem[t.Name.Local] {
				depth++
			}
		case xml.EndElement:
			if textElem[t.Name.Local] && depth > 0 {
				depth--
				sb.WriteByte(' ')
				entries++
				if entries >= e.cfg.MaxRows*4 {
					return nil
				}
			}
		case xml.CharData:
			if depth > 0 {
				sb.Write(t)
			}
		}
		if sb.Len() >= e.cfg.MaxTextLen*4 {
			return nil
		}
	}
}

func matchesPart(name string, parts []string) bool {
	for _, p := range parts {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(p, "*")) && strings.HasSuffix(name, ".xml") {
				return true
			}
		} else if name == p {
			return true
		}
	}
	return false
}

// listingFromZip produces an archive-metadata result from member names.
func (e *Extractor) listingFromZip(zr *zip.Reader) (Result, error) {
	var sb strings.Builder
	for i, zf := range zr.File {
		if i >= e.cfg.MaxArchiveEntries {
			break
		}
		sb.WriteString(zf.Name)
		sb.WriteByte('\n')
	}
	return Result{Text: sb.String(), Method: MethodArchiveMeta}, nil
}

// legacyScanLimit bounds how much of a legacy OLE file is scanned for
// printable runs.
const legacyScanLimit = 4 << 20

// extractLegacyOffice pulls printable runs out of legacy .doc/.xls/.ppt
// compound files. There is no structured parser for these; runs of readable
// characters recover enough title/body text to classify on.
func (e *Extractor) extractLegacyOffice(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, newError(KindIO, path, "Check that the file is readable.", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, legacyScanLimit))
	if err != nil {
		return Result{}, newError(KindIO, path, "", err)
	}

	text := printableRuns(data, 5)
	if strings.TrimSpace(text) == "" {
		return Result{}, newError(KindEmpty, path, "No readable text found in the legacy document.", nil)
	}
	return Result{Text: text, Method: MethodContent}, nil
}

// printableRuns extracts runs of at least minRun printable characters,
// handling both single-byte text and the UTF-16LE runs common in legacy
// office files.
func printableRuns(data []byte, minRun int) string {
	var sb strings.Builder
	var run []rune

	flush := func() {
		if len(run) >= minRun {
			sb.WriteString(string(run))
			sb.WriteByte('\n')
		}
		run = run[:0]
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		// UTF-16LE printable ASCII: letter byte followed by 0x00.
		if i+1 < len(data) && data[i+1] == 0 && isPrintableByte(c) {
			run = append(run, rune(c))
			i++
			continue
		}
		if isPrintableByte(c) {
			run = append(run, rune(c))
			continue
		}
		flush()
	}
	flush()
	return sb.String()
}

func isPrintableByte(c byte) bool {
	r := rune(c)
	return r == ' ' || r == '\t' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r)
}
