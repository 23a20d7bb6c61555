package upload

import (
	"fmt"
	"slices"
)

// DefaultMaxSize is the upload ceiling shared by validation and user copy.
const DefaultMaxSize = 10 << 20

// AllowedTypes lists the image media types accepted for scanning.
var AllowedTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// Validation rule names reported in ValidationError.Rule.
const (
	RuleType = "type"
	RuleSize = "size"
)

// ValidationError reports which rule rejected a file.
type ValidationError struct {
	Rule    string
	Size    int64
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validator checks media type and size of candidate files.
type Validator struct {
	maxSize int64
}

// NewValidator returns a Validator with the given ceiling in bytes.
// If maxSize is <= 0, DefaultMaxSize is used.
func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Validator{maxSize: maxSize}
}

// MaxSize returns the configured ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// MaxSizeLabel renders the ceiling for user copy, e.g. "10MB".
func (v *Validator) MaxSizeLabel() string {
	return limitLabel(v.maxSize)
}

// Validate returns a *ValidationError if f has a disallowed type or is too
// large. The type rule is checked first.
func (v *Validator) Validate(f File) error {
	if !slices.Contains(AllowedTypes, f.ContentType) {
		return &ValidationError{
			Rule:    RuleType,
			Size:    f.Size,
			Message: "Formato no válido. Usa JPG, PNG, GIF, WebP, BMP o TIFF.",
		}
	}
	if f.Size > v.maxSize {
		return v.SizeError(f.Size)
	}
	return nil
}

// SizeError is the size-rule rejection for a file of n bytes.
func (v *Validator) SizeError(n int64) *ValidationError {
	return &ValidationError{
		Rule:    RuleSize,
		Size:    n,
		Message: fmt.Sprintf("La imagen es muy grande (%s). Máximo %s.", FormatMB(n), limitLabel(v.maxSize)),
	}
}

// ValidateDrop applies the drop-zone image/* check before Validate.
func (v *Validator) ValidateDrop(f File) error {
	if !IsImageType(f.ContentType) {
		return &ValidationError{
			Rule:    RuleType,
			Size:    f.Size,
			Message: "Por favor, arrastra solo archivos de imagen.",
		}
	}
	return v.Validate(f)
}

// FormatMB renders a byte count in MiB with two decimals, e.g. "15.00MB".
func FormatMB(n int64) string {
	return fmt.Sprintf("%.2fMB", float64(n)/1024/1024)
}

func limitLabel(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return FormatMB(n)
}
