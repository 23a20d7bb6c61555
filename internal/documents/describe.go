package documents

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/eclipse/internal/upload"
)

// Summary is the display row for one document.
type Summary struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	SizeKB      string `json:"sizeKB"`
	Pages       int    `json:"pages,omitempty"`
}

// FormatKB renders a byte count in KiB with one decimal, e.g. "2.0 KB".
func FormatKB(n int64) string {
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

// Describe builds summaries for files in order. PDF page counts are best
// effort: unreadable PDFs report zero pages.
func Describe(ctx context.Context, files []upload.File) ([]Summary, error) {
	out := make([]Summary, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, f := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			s := Summary{
				Name:        f.Name,
				ContentType: f.ContentType,
				Size:        f.Size,
				SizeKB:      FormatKB(f.Size),
			}
			if f.ContentType == "application/pdf" {
				s.Pages = pageCount(f.Data)
			}
			out[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func pageCount(data []byte) (n int) {
	if len(data) == 0 {
		return 0
	}
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pdf page count failed", "panic", r)
			n = 0
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Debug("pdf page count failed", "error", err)
		return 0
	}
	return r.NumPage()
}
