package streamer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Signature is the detected leading-bytes classification of a body.
type Signature int

const (
	SigNone Signature = iota
	SigZIP            // ZIP local file header
	SigOLE            // OLE compound file (legacy xls and friends)
	SigHTML           // looks like an HTML error page
)

var (
	zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}
	oleMagic = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
)

// Sniff classifies the leading bytes of a stream. Only enough signatures
// are known to redirect a misnamed body to the right extension.
func Sniff(head []byte) Signature {
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return SigZIP
	case bytes.HasPrefix(head, oleMagic):
		return SigOLE
	}

	probe := head
	if len(probe) > 256 {
		probe = probe[:256]
	}
	lower := bytes.ToLower(bytes.TrimLeft(probe, " \t\r\n"))
	if bytes.HasPrefix(lower, []byte("<!doctype")) || bytes.HasPrefix(lower, []byte("<html")) {
		return SigHTML
	}
	return SigNone
}

// extractMatching extracts archive entries whose name ends with suffix into
// dir, returning how many files were written. Entry paths are confined to
// dir.
func extractMatching(zipPath, dir, suffix string) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	extracted := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(f.Name), suffix) {
			continue
		}

		dst := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(dst, filepath.Clean(dir)+string(os.PathSeparator)) {
			return extracted, fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if err := extractOne(f, dst); err != nil {
			return extracted, err
		}
		extracted++
	}
	return extracted, nil
}

func extractOne(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return w.Close()
}
