package upload

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// File is a user-selected file held in memory for the lifetime of a
// selection. A new selection replaces it; Clear discards it.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// NewFile builds a File from raw bytes. An empty or generic content type
// is inferred from the name's extension, then from the content itself.
func NewFile(name, contentType string, data []byte) File {
	return File{
		Name:        name,
		ContentType: normalizeType(name, contentType, data),
		Size:        int64(len(data)),
		Data:        data,
	}
}

// FromMultipart reads a multipart part into a File. limit caps how many
// bytes are read; a larger part still reports its declared size so the
// validator can reject it with the real number.
func FromMultipart(fh *multipart.FileHeader, limit int64) (File, error) {
	f, err := fh.Open()
	if err != nil {
		return File{}, fmt.Errorf("opening upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	var data []byte
	if limit <= 0 || fh.Size <= limit {
		data, err = io.ReadAll(f)
		if err != nil {
			return File{}, fmt.Errorf("reading upload %q: %w", fh.Filename, err)
		}
	}

	file := NewFile(fh.Filename, fh.Header.Get("Content-Type"), data)
	file.Size = fh.Size
	return file, nil
}

// IsImageType reports whether contentType is any image/* media type.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

func normalizeType(name, contentType string, data []byte) string {
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return strings.ToLower(strings.TrimSpace(contentType))
		}
		// Generic uploads carry no type information; infer it instead.
		if mt != "application/octet-stream" {
			return mt
		}
	}
	if ext := filepath.Ext(name); ext != "" {
		if mt, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil {
			return mt
		}
	}
	if len(data) > 0 {
		mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
		return mt
	}
	return ""
}
