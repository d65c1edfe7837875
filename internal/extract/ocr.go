package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ocrRunner shells out to tesseract. The binary is resolved once at
// composition time; a missing binary disables the OCR capability entirely
// rather than being rediscovered on every scanned file.
type ocrRunner struct {
	binary string
}

func newOCRRunner(binary string) (*ocrRunner, bool) {
	if binary == "" {
		return nil, false
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, false
	}
	return &ocrRunner{binary: resolved}, true
}

// run OCRs a single image file to plain text. The context deadline set by
// the caller bounds the subprocess.
func (r *ocrRunner) run(ctx context.Context, imagePath string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, imagePath, "stdout")
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

// extractImage OCRs a raster image directly.
func (e *Extractor) extractImage(ctx context.Context, path string, size int64) (Result, error) {
	if e.ocr == nil {
		return Result{}, newError(KindOCRUnavailable, path,
			"Install tesseract to read text from images.", nil)
	}
	if size > e.cfg.MaxOCRSize {
		return Result{}, newError(KindSizeExceeded, path,
			"The image is too large to OCR; it will be categorized from its name.", nil)
	}

	text, err := e.ocr.run(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, newError(KindTimeout, path, "", ctx.Err())
		}
		return Result{}, newError(KindParse, path, "OCR failed on the image.", err)
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, newError(KindEmpty, path, "No text was recognized in the image.", nil)
	}
	return Result{Text: strings.TrimSpace(text), Method: MethodOCR}, nil
}
