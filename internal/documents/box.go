package documents

import (
	"sync"

	"github.com/kalambet/eclipse/internal/upload"
)

// EmptyMessage is shown when no documents have been added.
const EmptyMessage = "No hay documentos subidos aún."

// Box collects files picked or dropped by the user and hands the new set
// to OnChange. Every call replaces the previous set; the Box keeps no list
// of its own and validates nothing.
type Box struct {
	OnChange func(files []upload.File)
}

// OnSelect reports files chosen through the file picker.
func (b Box) OnSelect(files []upload.File) {
	b.emit(files)
}

// OnDrop reports files dropped on the box.
func (b Box) OnDrop(files []upload.File) {
	b.emit(files)
}

func (b Box) emit(files []upload.File) {
	if b.OnChange == nil {
		return
	}
	out := make([]upload.File, len(files))
	copy(out, files)
	b.OnChange(out)
}

// List is the parent-owned holder a Box reports into. Its zero value is
// an empty list ready to use.
type List struct {
	mu    sync.RWMutex
	files []upload.File
}

// Set replaces the held files. It is meant to be used as Box.OnChange.
func (l *List) Set(files []upload.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = files
}

// Files returns a copy of the held files in order.
func (l *List) Files() []upload.File {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]upload.File, len(l.files))
	copy(out, l.files)
	return out
}

// Len returns the number of held files.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.files)
}
