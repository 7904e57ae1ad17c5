// Package streamer performs one resource fetch: status and size validation,
// chunked streaming to disk, binary signature sniffing and opportunistic
// archive extraction.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opendatahub/catalog-harvester/internal/httpx"
	"github.com/opendatahub/catalog-harvester/internal/jobstate"
)

// DefaultChunkSize is the streaming copy buffer size.
const DefaultChunkSize = 64 * 1024

// OutcomeKind classifies one per-resource result.
type OutcomeKind int

const (
	KindSuccess OutcomeKind = iota
	KindHTTPError
	KindTooLarge
	KindError
)

// String returns the stable name used in logs and run summaries.
func (k OutcomeKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindHTTPError:
		return "http_error"
	case KindTooLarge:
		return "too_large"
	default:
		return "error"
	}
}

// Outcome is the result of fetching one resource. Exactly one of the
// kind-specific fields is meaningful.
type Outcome struct {
	Ref    jobstate.ResourceRef
	Kind   OutcomeKind
	Status int    // KindHTTPError
	Size   int64  // KindTooLarge: declared size
	Limit  int64  // KindTooLarge: configured cap
	Err    string // KindError
	Note   string // informational, e.g. HTML-looking body
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Message renders the outcome for run logs.
func (o Outcome) Message() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("[OK][URL:%s]", o.Ref.URL)
	case KindHTTPError:
		return fmt.Sprintf("[HTTP:%d][URL:%s]", o.Status, o.Ref.URL)
	case KindTooLarge:
		return fmt.Sprintf("[TOO_LARGE:%d>%d][URL:%s]", o.Size, o.Limit, o.Ref.URL)
	default:
		return fmt.Sprintf("[ERROR:%s][URL:%s]", o.Err, o.Ref.URL)
	}
}

// Options configures resource fetches for one run.
type Options struct {
	// DatasetsDir is destination/datasets/<format>.
	DatasetsDir string

	// Format is the target extension; it also selects which archive
	// entries are worth extracting.
	Format string

	// MaxResourceSize rejects resources whose declared Content-Length
	// exceeds it, before any body bytes are read.
	MaxResourceSize int64

	// ChunkSize overrides DefaultChunkSize.
	ChunkSize int
}

// Fetch downloads one resource and classifies the result. The response
// body is always released; failures never propagate beyond the returned
// Outcome.
func Fetch(ctx context.Context, client *httpx.Client, ref jobstate.ResourceRef, opts Options) Outcome {
	out := Outcome{Ref: ref, Kind: KindSuccess}

	if err := fetch(ctx, client, ref, opts, &out); err != nil {
		// Classified outcomes set their kind before returning an error;
		// anything else is an unclassified failure.
		if out.Kind == KindSuccess {
			out.Kind = KindError
			out.Err = err.Error()
		}
	}
	return out
}

func fetch(ctx context.Context, client *httpx.Client, ref jobstate.ResourceRef, opts Options, out *Outcome) error {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	resp, err := client.Get(ctx, ref.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		out.Kind = KindHTTPError
		out.Status = resp.StatusCode
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 && resp.ContentLength > opts.MaxResourceSize {
		out.Kind = KindTooLarge
		out.Size = resp.ContentLength
		out.Limit = opts.MaxResourceSize
		return fmt.Errorf("declared size %d exceeds limit %d", resp.ContentLength, opts.MaxResourceSize)
	}

	// The first chunk decides the real format of the stream.
	head := make([]byte, chunkSize)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read body: %w", err)
	}
	head = head[:n]

	sig := Sniff(head)
	if sig == SigHTML {
		out.Note = "body looks like an HTML document"
	}

	// Resource ids may contain path separators from sanitization; they are
	// intentional hierarchy markers.
	path := destPath(opts, ref.ID, sig)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := writeBody(path, head, resp.Body, chunkSize); err != nil {
		return err
	}

	if sig == SigZIP {
		if err := extractArchive(path, filepath.Join(opts.DatasetsDir, ref.ID), opts.Format); err != nil {
			return fmt.Errorf("extract archive: %w", err)
		}
	}

	return nil
}

// destPath picks the on-disk filename: the configured extension unless the
// signature says otherwise.
func destPath(opts Options, id string, sig Signature) string {
	base := filepath.Join(opts.DatasetsDir, id)
	switch sig {
	case SigZIP:
		return base + ".zip"
	case SigOLE:
		// Legacy spreadsheet container; keep it honest instead of lying
		// with the requested extension.
		return base + ".xls"
	default:
		return base + "." + opts.Format
	}
}

// writeBody streams head plus the remaining body to path in chunks.
func writeBody(path string, head []byte, body io.Reader, chunkSize int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := f.Write(head); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(f, body, buf); err != nil {
		f.Close()
		// Partial file stays on disk for diagnostics; the outcome still
		// records the failure.
		return fmt.Errorf("stream to %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// extractArchive unpacks entries matching the target format from the
// archive at zipPath into extractDir, then removes the archive. The
// extraction directory is removed again when nothing matched.
func extractArchive(zipPath, extractDir, format string) error {
	suffix := "." + strings.ToLower(format)

	extracted, err := extractMatching(zipPath, extractDir, suffix)
	if err != nil {
		return err
	}

	if err := os.Remove(zipPath); err != nil {
		return fmt.Errorf("remove archive: %w", err)
	}

	if extracted == 0 {
		// Best effort: only removes the directory when it is empty.
		os.Remove(extractDir)
	}
	return nil
}
