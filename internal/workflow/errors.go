package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrScanInProgress is returned when an operation would interrupt a running scan.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrNoFile is returned when a scan is requested with nothing selected.
	ErrNoFile = errors.New("no file selected")
	// ErrNoResult is returned by result operations outside the complete state.
	ErrNoResult = errors.New("no scan result")
	// ErrNoPreview is returned by Preview before a preview has been rendered.
	ErrNoPreview = errors.New("no preview available")
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")
)

// User-facing messages.
const (
	msgNoFile       = "Por favor, selecciona una imagen primero"
	msgScanFailed   = "Error al procesar la imagen. Intenta de nuevo."
	msgPreviewError = "Error al cargar la imagen"
)

// ScanProcessingError wraps a failure of the scan engine.
type ScanProcessingError struct {
	Err error
}

func (e *ScanProcessingError) Error() string {
	return fmt.Sprintf("processing scan: %v", e.Err)
}

func (e *ScanProcessingError) Unwrap() error {
	return e.Err
}

// ClipboardError reports that the copied report could not be written.
type ClipboardError struct {
	Err error
}

func (e *ClipboardError) Error() string {
	return fmt.Sprintf("Error al copiar resultados: %v", e.Err)
}

func (e *ClipboardError) Unwrap() error {
	return e.Err
}
