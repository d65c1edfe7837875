package extract

import (
	"archive/zip"
	"strings"
)

// extractArchiveListing produces an archive-metadata result: the entry
// names of a zip container, capped. File names inside an archive are often
// the best classification signal available without unpacking.
func (e *Extractor) extractArchiveListing(path string) (Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Result{}, newError(KindParse, path, "The archive could not be opened; it may be corrupted.", err)
	}
	defer zr.Close()

	res, err := e.listingFromZip(&zr.Reader)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, newError(KindEmpty, path, "The archive is empty.", nil)
	}
	return res, nil
}
