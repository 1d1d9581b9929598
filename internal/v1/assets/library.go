// Package assets resolves the on-disk layout of pre-rendered score
// artifacts and derives the validators clients use for conditional GETs.
//
// Layout:
//
//	<pdf_dir>/<song_id>.pdf
//	<img_dir>/<song_id>/page_<n>.png
//
// Rendering itself happens out of process; this package only serves what
// the render pipeline wrote.
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Library locates rendered song artifacts under the configured directories.
type Library struct {
	imgDir string
	pdfDir string
}

// NewLibrary builds a Library rooted at the given image and PDF
// directories.
func NewLibrary(imgDir, pdfDir string) *Library {
	return &Library{imgDir: imgDir, pdfDir: pdfDir}
}

// PDFPath returns the path of a song's rendered PDF.
func (l *Library) PDFPath(songID string) string {
	return filepath.Join(l.pdfDir, songID+".pdf")
}

// PagePath returns the path of one page's raster image.
func (l *Library) PagePath(songID string, page int) string {
	return filepath.Join(l.imgDir, songID, fmt.Sprintf("page_%d.png", page))
}

// PageCount counts a song's rendered page images consecutively from page 1;
// counting stops at the first missing page, so pages after a gap are not
// counted.
func (l *Library) PageCount(songID string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(l.imgDir, songID))
	if err != nil {
		return 0, fmt.Errorf("failed to list page images for song %s: %w", songID, err)
	}
	count := 0
	for page := 1; page <= len(entries); page++ {
		if _, err := os.Stat(l.PagePath(songID, page)); err != nil {
			break
		}
		count++
	}
	return count, nil
}

// digestFile hashes the file contents.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PageETag returns the strong validator for a page image, quoted per
// RFC 9110.
func (l *Library) PageETag(songID string, page int) (string, error) {
	digest, err := digestFile(l.PagePath(songID, page))
	if err != nil {
		return "", fmt.Errorf("failed to derive page etag: %w", err)
	}
	return `"` + digest[:20] + `"`, nil
}

// PDFETag returns the strong validator for a song's PDF.
func (l *Library) PDFETag(songID string) (string, error) {
	digest, err := digestFile(l.PDFPath(songID))
	if err != nil {
		return "", fmt.Errorf("failed to derive pdf etag: %w", err)
	}
	return `"` + digest[:20] + `"`, nil
}

// BroadcastETag derives the weak, page-qualified etag embedded in
// song_updated and page_updated metadata. Clients compare it across events
// and refetch the page image when it changes.
func BroadcastETag(strongETag string, page int) string {
	trimmed := strongETag
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	if len(trimmed) > 12 {
		trimmed = trimmed[:12]
	}
	return fmt.Sprintf(`W/"%s-%d"`, trimmed, page)
}
