package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfcpulib "github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ocrPageLimit bounds how many pages of a scanned PDF are rasterized and
// OCRed. Scans beyond this rarely add classification signal.
const ocrPageLimit = 5

// extractPDF reads the PDF text layer page by page, stopping early once the
// output cap is reached. A PDF that yields no text but carries image
// streams is treated as a likely scan and routed through OCR, under the
// stricter OCR size budget.
func (e *Extractor) extractPDF(ctx context.Context, path string, size int64) (Result, error) {
	text, err := e.pdfTextLayer(ctx, path)
	if err != nil {
		return Result{}, err
	}

	if strings.TrimSpace(text) != "" {
		return Result{Text: text, Method: MethodContent}, nil
	}

	// Empty text layer. Decide whether this is plausibly a scan before
	// spending OCR time on it.
	if size > e.cfg.MaxOCRSize {
		return Result{}, newError(KindSizeExceeded, path,
			"This PDF has no text layer and is too large to OCR.", nil)
	}
	scan, err := e.looksLikeScan(path)
	if err != nil {
		e.logger.Debug("scan detection failed", "path", path, "error", err)
	}
	if !scan {
		return Result{}, newError(KindEmpty, path,
			"The PDF contains no extractable text.", nil)
	}

	if e.ocr == nil {
		return Result{}, newError(KindOCRUnavailable, path,
			"Install tesseract to read scanned PDFs.", nil)
	}
	return e.ocrPDF(ctx, path)
}

// pdfTextLayer walks pages with ledongthuc/pdf, accumulating plain text up
// to the output cap.
func (e *Extractor) pdfTextLayer(ctx context.Context, path string) (text string, err error) {
	// The pdf package panics on some malformed cross-reference tables;
	// convert that into a parse error instead of taking the process down.
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindParse, path, "The PDF appears to be corrupted.", fmt.Errorf("pdf reader panic: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", newError(KindParse, path, "The PDF could not be opened; it may be corrupted or encrypted.", err)
	}
	defer f.Close()

	var sb strings.Builder
	for pageNr := 1; pageNr <= reader.NumPage(); pageNr++ {
		if ctx.Err() != nil {
			return "", newError(KindTimeout, path, "", ctx.Err())
		}
		page := reader.Page(pageNr)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// A single bad page doesn't void the rest of the document.
			e.logger.Debug("pdf page extraction failed", "path", path, "page", pageNr, "error", err)
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte('\n')
		if sb.Len() >= e.cfg.MaxTextLen*4 {
			// Bytes overshoot runes; the final cap trims precisely.
			break
		}
	}
	return sb.String(), nil
}

// looksLikeScan reports whether the PDF carries image XObjects on its early
// pages, the signature of a scanned document.
func (e *Extractor) looksLikeScan(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return false, fmt.Errorf("pdfcpu read: %w", err)
	}

	limit := pctx.PageCount
	if limit > ocrPageLimit {
		limit = ocrPageLimit
	}
	for pageNr := 1; pageNr <= limit; pageNr++ {
		if len(pdfcpulib.ImageObjNrs(pctx, pageNr)) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ocrPDF exports the embedded page images of the first few pages and runs
// them through tesseract.
func (e *Extractor) ocrPDF(ctx context.Context, path string) (Result, error) {
	tmp, err := os.MkdirTemp("", "sortd-ocr-*")
	if err != nil {
		return Result{}, newError(KindIO, path, "", err)
	}
	defer os.RemoveAll(tmp)

	if err := api.ExtractImagesFile(path, tmp, nil, model.NewDefaultConfiguration()); err != nil {
		return Result{}, newError(KindParse, path, "The scanned PDF's images could not be exported.", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return Result{}, newError(KindIO, path, "", err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	ocred := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return Result{}, newError(KindTimeout, path, "", ctx.Err())
		}
		if ocred == ocrPageLimit {
			break
		}
		img := filepath.Join(tmp, name)
		if info, err := os.Stat(img); err != nil || info.Size() > e.cfg.MaxOCRSize {
			continue
		}
		pageText, err := e.ocr.run(ctx, img)
		if err != nil {
			e.logger.Debug("ocr page failed", "path", path, "image", name, "error", err)
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte('\n')
		ocred++
		if sb.Len() >= e.cfg.MaxTextLen*4 {
			break
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Result{}, newError(KindEmpty, path, "OCR produced no readable text from the scanned PDF.", nil)
	}
	return Result{Text: text, Method: MethodOCR}, nil
}
