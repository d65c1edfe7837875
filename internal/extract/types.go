package extract

import (
	"errors"
	"fmt"
)

// Format is the routed document format. Routing starts from the file
// extension but binary containers are re-checked against signature bytes,
// so a mislabelled .doc that is really a zip-packaged .docx still lands in
// the right extractor.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDocx    Format = "docx"
	FormatXlsx    Format = "xlsx"
	FormatPptx    Format = "pptx"
	FormatODT     Format = "odt"
	FormatLegacy  Format = "legacy-office"
	FormatText    Format = "text"
	FormatCSV     Format = "csv"
	FormatHTML    Format = "html"
	FormatXML     Format = "xml"
	FormatArchive Format = "archive"
	FormatImage   Format = "image"
	FormatUnknown Format = "unknown"
)

// Method records how the text in a Result was obtained. It travels with the
// analysis result so callers can explain degraded output.
type Method string

const (
	MethodContent      Method = "content"
	MethodOCR          Method = "ocr"
	MethodArchiveMeta  Method = "archive-metadata"
	MethodFilenameOnly Method = "filename-only"
)

// Result is bounded plain text plus the method that produced it.
// Release the text reference as soon as it has been consumed; large
// documents otherwise pin their full extraction in memory.
type Result struct {
	Text   string
	Method Method
}

// Kind classifies extraction failures.
type Kind string

const (
	KindSizeExceeded   Kind = "size-exceeded"
	KindTimeout        Kind = "timeout"
	KindUnsupported    Kind = "unsupported"
	KindParse          Kind = "parse"
	KindIO             Kind = "io"
	KindOCRUnavailable Kind = "ocr-unavailable"
	KindEmpty          Kind = "empty"
)

// Error is a typed extraction failure carrying a user-facing suggestion.
type Error struct {
	Kind       Kind
	Path       string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns the typed extraction error inside err, if any.
func AsError(err error) (*Error, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

func newError(kind Kind, path, suggestion string, err error) *Error {
	return &Error{Kind: kind, Path: path, Suggestion: suggestion, Err: err}
}
