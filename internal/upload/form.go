package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
)

const (
	maxFieldSize = 1 << 20
	sniffLen     = 512
)

// ErrNoFile is returned by ReadForm when the body has no file part with
// the requested name.
var ErrNoFile = errors.New("no file in form")

// Form is a streamed multipart body: one file plus its text fields.
type Form struct {
	File   File
	Values map[string]string
}

// Value returns the first value of a text field, or "".
func (f Form) Value(name string) string {
	return f.Values[name]
}

// ReadForm streams a multipart body and keeps the file part named field.
// At most limit bytes of it are held in memory; the remainder of a larger
// part is counted and discarded so File.Size is still the real length and
// File.Data is nil. A limit <= 0 keeps the whole part.
//
// When reading fails after the file part was seen, the partial Form is
// returned with the error so callers can still report the file's size.
func ReadForm(mr *multipart.Reader, field string, limit int64) (Form, error) {
	form := Form{Values: make(map[string]string)}
	found := false
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return form, fmt.Errorf("reading multipart body: %w", err)
		}

		name := part.FormName()
		switch {
		case part.FileName() != "" && name == field && !found:
			form.File, err = readFilePart(part, limit)
			found = true
		case part.FileName() != "":
			_, err = io.Copy(io.Discard, part)
		default:
			var v []byte
			v, err = io.ReadAll(io.LimitReader(part, maxFieldSize))
			if _, seen := form.Values[name]; !seen && err == nil {
				form.Values[name] = string(v)
			}
		}
		part.Close()
		if err != nil {
			return form, fmt.Errorf("reading part %q: %w", name, err)
		}
	}
	if !found {
		return form, ErrNoFile
	}
	return form, nil
}

func readFilePart(part *multipart.Part, limit int64) (File, error) {
	ct := part.Header.Get("Content-Type")
	if limit <= 0 {
		data, err := io.ReadAll(part)
		return NewFile(part.FileName(), ct, data), err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, limit+1))
	if err != nil {
		f := NewFile(part.FileName(), ct, buf.Bytes())
		f.Data = nil
		return f, err
	}
	if n <= limit {
		return NewFile(part.FileName(), ct, buf.Bytes()), nil
	}

	head := buf.Bytes()[:min(sniffLen, buf.Len())]
	f := NewFile(part.FileName(), ct, head)
	rest, err := io.Copy(io.Discard, part)
	f.Data = nil
	f.Size = n + rest
	return f, err
}
