package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

var fastTiming = Timing{
	UploadDelay:      40 * time.Millisecond,
	AnalysisDelay:    10 * time.Millisecond,
	ProgressInterval: 5 * time.Millisecond,
	ProgressStep:     15,
	ProgressCap:      90,
}

// fakePreviewer renders data URIs, failing for names in fail and holding
// names in gates until the gate is closed.
type fakePreviewer struct {
	mu    sync.Mutex
	fail  map[string]bool
	gates map[string]chan struct{}
}

func (p *fakePreviewer) Render(ctx context.Context, f upload.File) <-chan upload.Preview {
	p.mu.Lock()
	gate := p.gates[f.Name]
	fail := p.fail[f.Name]
	p.mu.Unlock()

	ch := make(chan upload.Preview, 1)
	go func() {
		defer close(ch)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				ch <- upload.Preview{Err: ctx.Err()}
				return
			}
		}
		if fail {
			ch <- upload.Preview{Err: &upload.PreviewError{Name: f.Name, Err: errors.New("bad image")}}
			return
		}
		ch <- upload.Preview{DataURI: "data:" + f.ContentType + ";base64,preview-" + f.Name}
	}()
	return ch
}

// fakeScanner returns a fixed result or err and records what it scanned.
type fakeScanner struct {
	mu    sync.Mutex
	err   error
	calls int
	data  [][]byte
}

func (s *fakeScanner) Analyze(_ context.Context, image []byte) (scan.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.data = append(s.data, image)
	if s.err != nil {
		return scan.Result{}, s.err
	}
	return scan.Result{
		ScanID:          "SCAN-1-abcdefghi",
		Diagnosis:       "Lesión benigna",
		Confidence:      90,
		RiskLevel:       scan.RiskLow,
		Recommendations: []string{"uno"},
	}, nil
}

func (s *fakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	c       *Controller
	prev    *fakePreviewer
	scanner *fakeScanner
	history *history.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		prev:    &fakePreviewer{fail: map[string]bool{}, gates: map[string]chan struct{}{}},
		scanner: &fakeScanner{},
		history: history.NewStore(history.NewMemoryStorage()),
	}
	h.c = New(upload.NewValidator(upload.DefaultMaxSize), h.prev, h.scanner, h.history,
		WithTiming(fastTiming),
		WithThumbnailer(func(upload.File) (string, error) { return "thumb", nil }),
	)
	t.Cleanup(h.c.Close)
	return h
}

func pngFile(t *testing.T, name string) upload.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return upload.NewFile(name, "image/png", buf.Bytes())
}

func waitState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := c.WaitFor(ctx, func(s Snapshot) bool { return s.State == want })
	if err != nil {
		t.Fatalf("waiting for %s: %v (last state %s)", want, err, s.State)
	}
	return s
}

func (h *harness) selectReady(t *testing.T, name string) {
	t.Helper()
	if err := h.c.SelectFile(pngFile(t, name)); err != nil {
		t.Fatalf("SelectFile(%s): %v", name, err)
	}
	waitState(t, h.c, StateReadyToScan)
}

func (h *harness) scanComplete(t *testing.T) Snapshot {
	t.Helper()
	if err := h.c.TriggerScan(); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	return waitState(t, h.c, StateComplete)
}

func TestSelectFile_ReadyWithPreview(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")

	s := h.c.Snapshot()
	if s.FileName != "mole.png" || s.FileType != "image/png" {
		t.Errorf("file = %q %q", s.FileName, s.FileType)
	}
	if s.Preview != "data:image/png;base64,preview-mole.png" {
		t.Errorf("Preview = %q", s.Preview)
	}
	if !s.CanScan {
		t.Error("CanScan = false in ready state")
	}
}

func TestPreview_ServedSeparately(t *testing.T) {
	h := newHarness(t)

	if _, _, err := h.c.Preview(); !errors.Is(err, ErrNoPreview) {
		t.Fatalf("Preview before selection err = %v, want ErrNoPreview", err)
	}

	h.selectReady(t, "a.png")
	uri, first, err := h.c.Preview()
	if err != nil || uri != "data:image/png;base64,preview-a.png" {
		t.Fatalf("Preview = %q, %v", uri, err)
	}
	if s := h.c.Snapshot(); s.PreviewVersion != first {
		t.Errorf("snapshot version = %d, want %d", s.PreviewVersion, first)
	}

	data, err := json.Marshal(h.c.Snapshot())
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if strings.Contains(string(data), "base64") || !strings.Contains(string(data), `"previewVersion"`) {
		t.Errorf("snapshot JSON = %s", data)
	}

	h.selectReady(t, "b.png")
	if _, second, _ := h.c.Preview(); second <= first {
		t.Errorf("version after reselect = %d, want > %d", second, first)
	}

	h.c.Clear()
	if s := h.c.Snapshot(); s.PreviewVersion != 0 {
		t.Errorf("version after clear = %d, want 0", s.PreviewVersion)
	}
}

func TestSelectFile_InvalidType(t *testing.T) {
	h := newHarness(t)

	err := h.c.SelectFile(upload.NewFile("notes.pdf", "application/pdf", []byte("%PDF")))
	var ve *upload.ValidationError
	if !errors.As(err, &ve) || ve.Rule != upload.RuleType {
		t.Fatalf("err = %v, want type ValidationError", err)
	}

	s := h.c.Snapshot()
	if s.State != StateError || s.ErrorKind != ErrorKindType || s.FileName != "" {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Error != "Formato no válido. Usa JPG, PNG, GIF, WebP, BMP o TIFF." {
		t.Errorf("Error = %q", s.Error)
	}

	h.c.DismissError()
	if got := h.c.Snapshot(); got.State != StateIdle || got.Error != "" {
		t.Errorf("after dismiss = %+v, want idle without error", got)
	}
}

func TestSelectFile_TooLargeKeepsPreviousSelection(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "first.png")

	big := upload.File{Name: "big.jpg", ContentType: "image/jpeg", Size: 15 << 20}
	err := h.c.SelectFile(big)
	var ve *upload.ValidationError
	if !errors.As(err, &ve) || ve.Rule != upload.RuleSize {
		t.Fatalf("err = %v, want size ValidationError", err)
	}

	s := h.c.Snapshot()
	if s.State != StateError || s.FileName != "first.png" {
		t.Errorf("snapshot = %+v, want error with first.png retained", s)
	}
	if s.Error != "La imagen es muy grande (15.00MB). Máximo 10MB." {
		t.Errorf("Error = %q", s.Error)
	}

	h.c.DismissError()
	if got := h.c.Snapshot().State; got != StateReadyToScan {
		t.Errorf("after dismiss state = %s, want ready", got)
	}
}

func TestDrop_NonImage(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "keep.png")

	h.c.DragEnter()
	err := h.c.Drop(upload.NewFile("doc.txt", "text/plain", []byte("hi")))
	if err == nil {
		t.Fatal("Drop(text/plain) returned nil error")
	}

	s := h.c.Snapshot()
	if s.Error != "Por favor, arrastra solo archivos de imagen." {
		t.Errorf("Error = %q", s.Error)
	}
	if s.FileName != "keep.png" {
		t.Errorf("FileName = %q, want selection unchanged", s.FileName)
	}
	if s.Dragging {
		t.Error("Dragging still set after drop")
	}
}

func TestDrop_Image(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Drop(pngFile(t, "dropped.png")); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if s := waitState(t, h.c, StateReadyToScan); s.FileName != "dropped.png" {
		t.Errorf("FileName = %q", s.FileName)
	}
}

func TestDragFlags(t *testing.T) {
	h := newHarness(t)
	h.c.DragEnter()
	if !h.c.Snapshot().Dragging {
		t.Error("Dragging = false after DragEnter")
	}
	h.c.DragLeave()
	if h.c.Snapshot().Dragging {
		t.Error("Dragging = true after DragLeave")
	}
}

func TestScan_FullFlow(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")

	ch, unsubscribe := h.c.Subscribe()
	defer unsubscribe()
	if err := h.c.TriggerScan(); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}

	timeout := time.After(2 * time.Second)
	last := -1
	var final Snapshot
loop:
	for {
		select {
		case s := <-ch:
			if s.State != StateScanning && s.State != StateComplete {
				continue
			}
			if s.Progress < last {
				t.Fatalf("progress went backwards: %d -> %d", last, s.Progress)
			}
			if s.Progress != 100 && (s.Progress%15 != 0 || s.Progress > 90) {
				t.Fatalf("progress %d not a capped step", s.Progress)
			}
			last = s.Progress
			if s.State == StateComplete {
				final = s
				break loop
			}
		case <-timeout:
			t.Fatal("scan did not complete")
		}
	}

	if final.Progress != 100 || final.Stage != StageDone {
		t.Errorf("final progress = %d stage = %q", final.Progress, final.Stage)
	}
	if final.Result == nil || final.Result.ScanID != "SCAN-1-abcdefghi" {
		t.Fatalf("final result = %+v", final.Result)
	}

	entries := h.history.Load(context.Background())
	if len(entries) != 1 {
		t.Fatalf("history len = %d, want 1", len(entries))
	}
	if !entries[0].Saved || entries[0].ImagePreview != "thumb" {
		t.Errorf("history entry = %+v", entries[0])
	}
}

func TestTriggerScan_WhileScanning(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")

	if err := h.c.TriggerScan(); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if err := h.c.TriggerScan(); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("second TriggerScan = %v, want ErrScanInProgress", err)
	}
	if err := h.c.SelectFile(pngFile(t, "other.png")); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("SelectFile while scanning = %v, want ErrScanInProgress", err)
	}

	waitState(t, h.c, StateComplete)
	if got := h.scanner.Calls(); got != 1 {
		t.Errorf("scanner calls = %d, want 1", got)
	}
}

func TestTriggerScan_NoFile(t *testing.T) {
	h := newHarness(t)

	if err := h.c.TriggerScan(); !errors.Is(err, ErrNoFile) {
		t.Fatalf("TriggerScan = %v, want ErrNoFile", err)
	}
	s := h.c.Snapshot()
	if s.State != StateError || s.ErrorKind != ErrorKindNoFile || s.Error != msgNoFile {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestTriggerScan_FromPreviewing(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.prev.gates["slow.png"] = gate
	defer close(gate)

	if err := h.c.SelectFile(pngFile(t, "slow.png")); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if got := h.c.Snapshot().State; got != StatePreviewing {
		t.Fatalf("state = %s, want previewing", got)
	}
	h.scanComplete(t)
}

func TestRetry_SameFile(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")
	h.scanComplete(t)

	if err := h.c.TriggerScan(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("TriggerScan in complete = %v, want ErrInvalidTransition", err)
	}
	if err := h.c.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitState(t, h.c, StateComplete)

	if n := len(h.history.Load(context.Background())); n != 2 {
		t.Errorf("history len = %d, want 2", n)
	}
	h.scanner.mu.Lock()
	defer h.scanner.mu.Unlock()
	if len(h.scanner.data) != 2 || !bytes.Equal(h.scanner.data[0], h.scanner.data[1]) {
		t.Error("retry did not scan the same file bytes")
	}
}

func TestRetry_NotAllowedWhenReady(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")
	if err := h.c.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Retry in ready = %v, want ErrInvalidTransition", err)
	}
}

func TestSave_AppendsDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.c.Save(ctx); !errors.Is(err, ErrNoResult) {
		t.Errorf("Save before result = %v, want ErrNoResult", err)
	}

	h.selectReady(t, "mole.png")
	h.scanComplete(t)
	for i := 0; i < 2; i++ {
		if _, err := h.c.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries := h.history.Load(ctx)
	if len(entries) != 3 {
		t.Fatalf("history len = %d, want 3 (auto + 2 saves)", len(entries))
	}
	for _, e := range entries {
		if e.ScanID != "SCAN-1-abcdefghi" {
			t.Errorf("entry ScanID = %q", e.ScanID)
		}
	}
}

func TestSelectAfterComplete_DiscardsResultFromView(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "a.png")
	h.scanComplete(t)

	h.selectReady(t, "b.png")
	s := h.c.Snapshot()
	if s.Result != nil || s.Progress != 0 {
		t.Errorf("snapshot after new selection = %+v, want no result", s)
	}
	if n := len(h.history.Load(context.Background())); n != 1 {
		t.Errorf("history len = %d, want 1", n)
	}
}

func TestClear_CancelsScan(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")
	if err := h.c.TriggerScan(); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	if err := h.c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	time.Sleep(fastTiming.UploadDelay + fastTiming.AnalysisDelay + 50*time.Millisecond)

	s := h.c.Snapshot()
	if s.State != StateIdle || s.FileName != "" || s.Preview != "" || s.Progress != 0 || s.Result != nil {
		t.Errorf("snapshot after clear = %+v", s)
	}
	if h.scanner.Calls() != 0 {
		t.Errorf("scanner ran after clear")
	}
	if n := len(h.history.Load(context.Background())); n != 0 {
		t.Errorf("history len = %d, want 0", n)
	}
}

func TestClose_NothingFiresAfter(t *testing.T) {
	h := newHarness(t)
	h.selectReady(t, "mole.png")

	ch, _ := h.c.Subscribe()
	if err := h.c.TriggerScan(); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	h.c.Close()

	time.Sleep(fastTiming.UploadDelay + fastTiming.AnalysisDelay + 50*time.Millisecond)

	for range ch {
	}
	if h.scanner.Calls() != 0 {
		t.Error("scanner ran after close")
	}
	if n := len(h.history.Load(context.Background())); n != 0 {
		t.Errorf("history len = %d, want 0", n)
	}
	if err := h.c.TriggerScan(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("TriggerScan after close = %v, want ErrSessionClosed", err)
	}
	if err := h.c.SelectFile(pngFile(t, "x.png")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SelectFile after close = %v, want ErrSessionClosed", err)
	}
}

func TestScanFailure(t *testing.T) {
	h := newHarness(t)
	h.scanner.err = errors.New("engine down")
	h.selectReady(t, "mole.png")

	if err := h.c.TriggerScan(); err != nil {
		t.Fatalf("TriggerScan: %v", err)
	}
	s := waitState(t, h.c, StateError)
	if s.Error != msgScanFailed || s.ErrorKind != ErrorKindProcessing || s.Progress != 0 {
		t.Errorf("snapshot = %+v", s)
	}
	if n := len(h.history.Load(context.Background())); n != 0 {
		t.Errorf("history len = %d after failure, want 0", n)
	}

	h.scanner.mu.Lock()
	h.scanner.err = nil
	h.scanner.mu.Unlock()
	if err := h.c.Retry(); err != nil {
		t.Fatalf("Retry after failure: %v", err)
	}
	waitState(t, h.c, StateComplete)
}

func TestScanFailure_DismissResumesReady(t *testing.T) {
	h := newHarness(t)
	h.scanner.err = errors.New("engine down")
	h.selectReady(t, "mole.png")
	h.c.TriggerScan()
	waitState(t, h.c, StateError)

	h.c.DismissError()
	if got := h.c.Snapshot().State; got != StateReadyToScan {
		t.Errorf("state after dismiss = %s, want ready", got)
	}
}

func TestPreviewFailure_DoesNotBlockScan(t *testing.T) {
	h := newHarness(t)
	h.prev.fail["broken.png"] = true

	if err := h.c.SelectFile(pngFile(t, "broken.png")); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	s := waitState(t, h.c, StateReadyToScan)
	if s.PreviewError != msgPreviewError || s.Preview != "" {
		t.Errorf("snapshot = %+v", s)
	}
	h.scanComplete(t)
}

func TestStalePreviewDiscarded(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.prev.gates["old.png"] = gate

	if err := h.c.SelectFile(pngFile(t, "old.png")); err != nil {
		t.Fatalf("SelectFile(old): %v", err)
	}
	h.selectReady(t, "new.png")
	close(gate)
	time.Sleep(20 * time.Millisecond)

	if s := h.c.Snapshot(); s.Preview != "data:image/png;base64,preview-new.png" {
		t.Errorf("Preview = %q, want the newer file's preview", s.Preview)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("clipboard denied") }

func TestReportAndExport(t *testing.T) {
	h := newHarness(t)

	if _, err := h.c.Report(); !errors.Is(err, ErrNoResult) {
		t.Errorf("Report before result = %v, want ErrNoResult", err)
	}

	h.selectReady(t, "mole.png")
	h.scanComplete(t)

	var buf bytes.Buffer
	if err := h.c.CopyReport(&buf); err != nil {
		t.Fatalf("CopyReport: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("Diagnóstico: Lesión benigna\n")) {
		t.Errorf("report = %q", buf.String())
	}

	var ce *ClipboardError
	if err := h.c.CopyReport(failingWriter{}); !errors.As(err, &ce) {
		t.Errorf("CopyReport to failing writer = %v, want ClipboardError", err)
	}

	name, data, err := h.c.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(data) == 0 || !bytes.HasPrefix([]byte(name), []byte("eclipse-resultado-")) {
		t.Errorf("Export = %q, %d bytes", name, len(data))
	}
}

func TestStage(t *testing.T) {
	tests := []struct {
		progress int
		want     string
	}{
		{0, ""},
		{24, ""},
		{25, StageUploading},
		{50, StageProcessing},
		{74, StageProcessing},
		{75, StageAnalyzing},
		{90, StageAnalyzing},
		{100, StageDone},
	}
	for _, tt := range tests {
		if got := Stage(tt.progress); got != tt.want {
			t.Errorf("Stage(%d) = %q, want %q", tt.progress, got, tt.want)
		}
	}
}

func TestDefaultTiming(t *testing.T) {
	d := DefaultTiming()
	if d.UploadDelay != 3*time.Second || d.AnalysisDelay != 1500*time.Millisecond || d.ProgressInterval != 200*time.Millisecond {
		t.Errorf("DefaultTiming = %+v", d)
	}
	if got := (Timing{}).withDefaults(); got != d {
		t.Errorf("zero Timing withDefaults = %+v, want %+v", got, d)
	}
}
