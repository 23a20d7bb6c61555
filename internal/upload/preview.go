package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PreviewError reports that a file could not be turned into a displayable
// preview. It never blocks a scan.
type PreviewError struct {
	Name string
	Err  error
}

func (e *PreviewError) Error() string {
	return fmt.Sprintf("no se pudo mostrar la vista previa de %q: %v", e.Name, e.Err)
}

func (e *PreviewError) Unwrap() error {
	return e.Err
}

// Preview is the single result delivered by Renderer.Render.
type Preview struct {
	DataURI string
	Width   int
	Height  int
	Err     error
}

// Renderer converts accepted files into inline data URIs.
type Renderer struct{}

// NewRenderer returns a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render decodes f in the background and delivers exactly one Preview on
// the returned channel, which is then closed. The channel is buffered so
// an abandoned render never leaks its goroutine.
func (r *Renderer) Render(ctx context.Context, f File) <-chan Preview {
	ch := make(chan Preview, 1)
	go func() {
		defer close(ch)
		if err := ctx.Err(); err != nil {
			ch <- Preview{Err: &PreviewError{Name: f.Name, Err: err}}
			return
		}
		ch <- r.RenderNow(f)
	}()
	return ch
}

// RenderNow is the synchronous form of Render.
func (r *Renderer) RenderNow(f File) Preview {
	if len(f.Data) == 0 {
		return Preview{Err: &PreviewError{Name: f.Name, Err: errors.New("empty file")}}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return Preview{Err: &PreviewError{Name: f.Name, Err: err}}
	}
	return Preview{
		DataURI: DataURI(f.ContentType, f.Data),
		Width:   cfg.Width,
		Height:  cfg.Height,
	}
}

// DataURI encodes data as a base64 data URI of the given media type.
func DataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
