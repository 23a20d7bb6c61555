package workflow

import "github.com/kalambet/eclipse/internal/scan"

// State is the scanner page state.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StatePreviewing  State = "previewing"
	StateReadyToScan State = "ready"
	StateScanning    State = "scanning"
	StateComplete    State = "complete"
	StateError       State = "error"
)

// Progress stage labels, each active once progress reaches its threshold.
const (
	StageUploading  = "Subiendo"
	StageProcessing = "Procesando"
	StageAnalyzing  = "Analizando"
	StageDone       = "Completado"
)

// Stage returns the furthest stage label reached at progress, or "" below 25.
func Stage(progress int) string {
	switch {
	case progress >= 100:
		return StageDone
	case progress >= 75:
		return StageAnalyzing
	case progress >= 50:
		return StageProcessing
	case progress >= 25:
		return StageUploading
	default:
		return ""
	}
}

// Error kinds reported in Snapshot.ErrorKind.
const (
	ErrorKindType       = "type"
	ErrorKindSize       = "size"
	ErrorKindNoFile     = "no_file"
	ErrorKindProcessing = "processing"
)

// Snapshot is the derived UI state of a Controller at one instant.
//
// Preview is omitted from JSON; clients fetch it once per PreviewVersion.
type Snapshot struct {
	State          State        `json:"state"`
	FileName       string       `json:"fileName,omitempty"`
	FileType       string       `json:"fileType,omitempty"`
	FileSize       int64        `json:"fileSize,omitempty"`
	Preview        string       `json:"-"`
	PreviewVersion uint64       `json:"previewVersion,omitempty"`
	PreviewError   string       `json:"previewError,omitempty"`
	Result         *scan.Result `json:"result,omitempty"`
	Error          string       `json:"error,omitempty"`
	ErrorKind      string       `json:"errorKind,omitempty"`
	Progress       int          `json:"progress"`
	Stage          string       `json:"stage,omitempty"`
	Dragging       bool         `json:"dragging"`
	CanScan        bool         `json:"canScan"`
}
