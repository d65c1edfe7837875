// Package extract turns files on disk into bounded plain text.
//
// Supported formats:
//   - .pdf                - text layer first, OCR fallback for likely scans
//   - .docx .xlsx .pptx   - archive/zip → office XML
//   - .odt                - archive/zip → content.xml
//   - .doc .xls .ppt      - legacy OLE containers, printable-run scan
//   - .txt .md .log ...   - streamed passthrough
//   - .csv .tsv           - row-capped structured read
//   - .html .htm .xml     - tag-stripped token walk
//   - .zip                - entry-name listing (archive metadata)
//   - .png .jpg .tiff ... - OCR when the tesseract capability is present
//
// Every path enforces a size precheck before any expensive work, a
// per-format deadline, and a final output cap. Extraction never panics on
// well-formed input; every failure is a typed *Error.
package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Config bounds the extractor. Zero values fall back to defaults().
type Config struct {
	// MaxFileSize is the generic size precheck in bytes.
	MaxFileSize int64
	// MaxPDFSize overrides MaxFileSize for PDFs, which stream page by page.
	MaxPDFSize int64
	// MaxOCRSize bounds files eligible for the OCR path.
	MaxOCRSize int64
	// MaxTextLen caps the returned text in runes, applied on every return path.
	MaxTextLen int
	// MaxRows caps structured rows read from spreadsheets and CSVs.
	MaxRows int
	// MaxArchiveEntries caps entries listed from archives.
	MaxArchiveEntries int
	// Timeout is the per-file extraction deadline. OCR and spreadsheet
	// paths get SlowTimeout instead.
	Timeout     time.Duration
	SlowTimeout time.Duration
	// OCRBinary names the tesseract executable; resolved once in New.
	OCRBinary string
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.MaxPDFSize <= 0 {
		c.MaxPDFSize = 100 << 20
	}
	if c.MaxOCRSize <= 0 {
		c.MaxOCRSize = 20 << 20
	}
	if c.MaxTextLen <= 0 {
		c.MaxTextLen = 100_000
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 500
	}
	if c.MaxArchiveEntries <= 0 {
		c.MaxArchiveEntries = 200
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.SlowTimeout <= 0 {
		c.SlowTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor dispatches files to per-format extraction routines.
type Extractor struct {
	cfg    Config
	ocr    *ocrRunner // nil when the capability is absent
	logger *slog.Logger
}

// New creates an Extractor. The OCR capability is resolved here, once: if
// cfg.OCRBinary is empty or not found in PATH, scanned documents and images
// report a typed ocr-unavailable failure instead of probing at call time.
func New(cfg Config) *Extractor {
	cfg.defaults()
	e := &Extractor{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "extract"),
	}
	if r, ok := newOCRRunner(cfg.OCRBinary); ok {
		e.ocr = r
	} else if cfg.OCRBinary != "" {
		e.logger.Warn("ocr binary not found, scanned documents will not be readable", "binary", cfg.OCRBinary)
	}
	return e
}

// OCRAvailable reports whether the OCR capability was resolved at startup.
func (e *Extractor) OCRAvailable() bool { return e.ocr != nil }

// Extract reads the file at path and returns bounded text. One retry with a
// short fixed delay is attempted for transient I/O failures (file locks,
// truncated reads from files still being written) before giving up.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	res, err := e.extractOnce(ctx, path)
	if err != nil && isTransient(err) {
		e.logger.Debug("transient extraction failure, retrying", "path", path, "error", err)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
			return Result{}, newError(KindTimeout, path, "", ctx.Err())
		}
		res, err = e.extractOnce(ctx, path)
	}
	return res, err
}

func (e *Extractor) extractOnce(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, newError(KindIO, path, "Check that the file exists and is readable.", err)
	}
	if info.IsDir() {
		return Result{}, newError(KindUnsupported, path, "Directories cannot be analyzed; pick a file.", nil)
	}

	format := e.detect(path)

	limit := e.cfg.MaxFileSize
	if format == FormatPDF {
		limit = e.cfg.MaxPDFSize
	}
	if info.Size() > limit {
		return Result{}, newError(KindSizeExceeded, path,
			"The file is too large to analyze; it will be categorized from its name instead.", nil)
	}

	timeout := e.cfg.Timeout
	if format == FormatXlsx || format == FormatImage || format == FormatPDF {
		// OCR and large-workbook paths get the slower budget.
		timeout = e.cfg.SlowTimeout
	}

	res, err := runWithDeadline(ctx, timeout, path, func(ctx context.Context) (Result, error) {
		return e.dispatch(ctx, path, format, info.Size())
	})
	if err != nil {
		return Result{}, err
	}

	res.Text = capRunes(res.Text, e.cfg.MaxTextLen)
	return res, nil
}

func (e *Extractor) dispatch(ctx context.Context, path string, format Format, size int64) (Result, error) {
	switch format {
	case FormatPDF:
		return e.extractPDF(ctx, path, size)
	case FormatDocx, FormatXlsx, FormatPptx, FormatODT, FormatLegacy:
		return e.extractOffice(ctx, path, format)
	case FormatText:
		return e.extractPlainText(path)
	case FormatCSV:
		return e.extractCSV(path)
	case FormatHTML, FormatXML:
		return e.extractMarkup(path)
	case FormatArchive:
		return e.extractArchiveListing(path)
	case FormatImage:
		return e.extractImage(ctx, path, size)
	default:
		return Result{}, newError(KindUnsupported, path,
			"This file type has no text extractor; it will be categorized from its name.", nil)
	}
}

// detect routes by extension, then corrects binary container formats by
// signature. Legacy office extensions hiding zip content (and vice versa)
// are redirected rather than failed.
func (e *Extractor) detect(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	f := formatForExt(ext)

	switch f {
	case FormatDocx, FormatXlsx, FormatPptx, FormatODT, FormatLegacy, FormatArchive:
		sig, err := readSignature(path)
		if err != nil {
			return f
		}
		switch {
		case sig == sigZip && f == FormatLegacy:
			// A modern zip-packaged document with a legacy extension.
			switch strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".") {
			case "doc":
				return FormatDocx
			case "xls":
				return FormatXlsx
			case "ppt":
				return FormatPptx
			}
		case sig == sigOLE && f != FormatLegacy:
			return FormatLegacy
		}
	}
	return f
}

func formatForExt(ext string) Format {
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDocx
	case ".xlsx":
		return FormatXlsx
	case ".pptx":
		return FormatPptx
	case ".odt", ".ods", ".odp":
		return FormatODT
	case ".doc", ".xls", ".ppt":
		return FormatLegacy
	case ".txt", ".md", ".markdown", ".log", ".rtf", ".json", ".yaml", ".yml", ".toml", ".ini", ".go", ".py", ".js", ".ts":
		return FormatText
	case ".csv", ".tsv":
		return FormatCSV
	case ".html", ".htm":
		return FormatHTML
	case ".xml", ".svg":
		return FormatXML
	case ".zip", ".jar", ".epub":
		return FormatArchive
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp":
		return FormatImage
	default:
		return FormatUnknown
	}
}

type signature int

const (
	sigUnknown signature = iota
	sigZip               // PK\x03\x04
	sigOLE               // D0 CF 11 E0 (legacy compound file)
	sigPDF               // %PDF
)

func readSignature(path string) (signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return sigUnknown, err
	}
	defer f.Close()

	var buf [4]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		// Files shorter than the longest signature carry no signature.
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return sigUnknown, nil
		}
		return sigUnknown, err
	}
	switch {
	case buf[0] == 'P' && buf[1] == 'K' && buf[2] == 0x03 && buf[3] == 0x04:
		return sigZip, nil
	case buf[0] == 0xD0 && buf[1] == 0xCF && buf[2] == 0x11 && buf[3] == 0xE0:
		return sigOLE, nil
	case buf[0] == '%' && buf[1] == 'P' && buf[2] == 'D' && buf[3] == 'F':
		return sigPDF, nil
	default:
		return sigUnknown, nil
	}
}

// runWithDeadline runs fn under a deadline, converting expiry into a typed
// timeout error. fn runs in its own goroutine because file parsing is not
// context-aware; the goroutine's result is dropped if the deadline won.
func runWithDeadline(ctx context.Context, d time.Duration, path string, fn func(context.Context) (Result, error)) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := fn(ctx)
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, newError(KindTimeout, path,
			"Extraction took too long; the file will be categorized from its name.", ctx.Err())
	}
}

func isTransient(err error) bool {
	var ee *Error
	if !errors.As(err, &ee) {
		return false
	}
	if ee.Kind != KindIO || ee.Err == nil {
		return false
	}
	return errors.Is(ee.Err, os.ErrPermission) || errors.Is(ee.Err, os.ErrClosed) || strings.Contains(ee.Err.Error(), "locked")
}

// capRunes truncates s to at most n runes without splitting a rune.
func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
