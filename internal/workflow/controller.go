package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/metrics"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

// Previewer renders a file preview asynchronously. The channel delivers one
// value and closes.
type Previewer interface {
	Render(ctx context.Context, f upload.File) <-chan upload.Preview
}

// Scanner produces a result for an image.
type Scanner interface {
	Analyze(ctx context.Context, image []byte) (scan.Result, error)
}

// Recorder persists completed results.
type Recorder interface {
	Record(ctx context.Context, result scan.Result, preview string) history.Entry
}

// Controller drives one scanner page: select or drop a file, preview it,
// run a simulated scan and record the result.
//
// All methods are safe for concurrent use. Background work (preview and
// scan) runs in goroutines tied to per-task contexts; a generation counter
// discards completions that were superseded by a later operation.
type Controller struct {
	validator *upload.Validator
	previewer Previewer
	scanner   Scanner
	recorder  Recorder
	thumbnail func(upload.File) (string, error)
	timing    Timing
	logger    *slog.Logger

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	state         State
	resume        State
	file          *upload.File
	preview       string
	previewErr    string
	thumb         string
	result        *scan.Result
	errMsg        string
	errKind       string
	progress      int
	dragging      bool
	previewGen    uint64
	previewSeq    uint64
	scanGen       uint64
	previewCancel context.CancelFunc
	scanCancel    context.CancelFunc
	subs          map[uint64]chan Snapshot
	nextSub       uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithTiming overrides DefaultTiming.
func WithTiming(t Timing) Option {
	return func(c *Controller) { c.timing = t.withDefaults() }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithThumbnailer replaces upload.Thumbnail for history previews.
func WithThumbnailer(fn func(upload.File) (string, error)) Option {
	return func(c *Controller) { c.thumbnail = fn }
}

// New returns an idle Controller.
func New(v *upload.Validator, p Previewer, s Scanner, r Recorder, opts ...Option) *Controller {
	c := &Controller{
		validator: v,
		previewer: p,
		scanner:   s,
		recorder:  r,
		thumbnail: upload.Thumbnail,
		timing:    DefaultTiming(),
		logger:    slog.Default().With("component", "workflow"),
		state:     StateIdle,
		subs:      make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.base, c.baseCancel = context.WithCancel(context.Background())
	return c
}

// Snapshot returns the current UI state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SelectFile validates f and, when accepted, replaces the current selection
// and starts rendering its preview. A rejected file leaves the previous
// selection in place and moves the controller to the error state.
func (c *Controller) SelectFile(f upload.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkSelectLocked(); err != nil {
		return err
	}
	return c.acceptLocked(f, c.validator.Validate)
}

// Drop is SelectFile for files dropped on the page. Non-image types are
// rejected before the usual validation.
func (c *Controller) Drop(f upload.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = false
	if err := c.checkSelectLocked(); err != nil {
		c.notifyLocked()
		return err
	}
	return c.acceptLocked(f, c.validator.ValidateDrop)
}

// DragEnter marks a drag hovering over the drop zone.
func (c *Controller) DragEnter() {
	c.setDragging(true)
}

// DragLeave clears the hover flag.
func (c *Controller) DragLeave() {
	c.setDragging(false)
}

func (c *Controller) setDragging(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.dragging == v {
		return
	}
	c.dragging = v
	c.notifyLocked()
}

// TriggerScan starts a scan of the selected file.
func (c *Controller) TriggerScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	switch c.state {
	case StateScanning:
		return ErrScanInProgress
	case StateComplete:
		return fmt.Errorf("trigger scan in %s: %w", c.state, ErrInvalidTransition)
	}
	if c.file == nil {
		c.failLocked(msgNoFile, ErrorKindNoFile, StateIdle)
		return ErrNoFile
	}
	c.startScanLocked()
	return nil
}

// Retry scans the same file again after a result or a failure.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	switch c.state {
	case StateScanning:
		return ErrScanInProgress
	case StateComplete, StateError:
	default:
		return fmt.Errorf("retry in %s: %w", c.state, ErrInvalidTransition)
	}
	if c.file == nil {
		return ErrNoFile
	}
	c.startScanLocked()
	return nil
}

// Save records the current result in history again. Each call appends a
// new entry.
func (c *Controller) Save(ctx context.Context) (history.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return history.Entry{}, ErrSessionClosed
	}
	if c.state != StateComplete || c.result == nil {
		return history.Entry{}, ErrNoResult
	}
	return c.recorder.Record(ctx, *c.result, c.thumb), nil
}

// Clear cancels pending work and returns to idle with nothing selected.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	c.cancelPreviewLocked()
	c.cancelScanLocked()
	c.file = nil
	c.preview = ""
	c.previewErr = ""
	c.thumb = ""
	c.result = nil
	c.clearErrorLocked()
	c.progress = 0
	c.state = StateIdle
	c.notifyLocked()
	return nil
}

// DismissError clears the error message. From the error state the
// controller resumes where it was before the failure.
func (c *Controller) DismissError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.state == StateError {
		c.state = c.resumeStateLocked()
	}
	c.clearErrorLocked()
	c.notifyLocked()
	return nil
}

// Close cancels pending preview and scan work and waits for it to exit.
// No state change is published after Close returns. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.baseCancel()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Subscribe returns a channel receiving a snapshot after every change,
// starting with the current one. Slow readers may miss intermediate
// snapshots but always receive the latest. The channel closes on
// unsubscribe or Close.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Snapshot, 8)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				close(sub)
				delete(c.subs, id)
			}
		})
	}
}

// WaitFor blocks until a snapshot satisfies cond or ctx is done.
func (c *Controller) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return c.Snapshot(), ErrSessionClosed
			}
			if cond(s) {
				return s, nil
			}
		}
	}
}

// Preview returns the rendered preview data URI and its version.
func (c *Controller) Preview() (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", 0, ErrSessionClosed
	}
	if c.preview == "" {
		return "", 0, ErrNoPreview
	}
	return c.preview, c.previewSeq, nil
}

// Report returns the clipboard text for the current result.
func (c *Controller) Report() (string, error) {
	r, err := c.currentResult()
	if err != nil {
		return "", err
	}
	return scan.Report(r), nil
}

// CopyReport writes the clipboard text to w. A failed write is returned
// as a *ClipboardError.
func (c *Controller) CopyReport(w io.Writer) error {
	text, err := c.Report()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return &ClipboardError{Err: err}
	}
	return nil
}

// Export returns the current result as indented JSON and its download name.
func (c *Controller) Export() (string, []byte, error) {
	r, err := c.currentResult()
	if err != nil {
		return "", nil, err
	}
	data, err := scan.ExportJSON(r)
	if err != nil {
		return "", nil, err
	}
	return scan.ExportFilename(time.Now()), data, nil
}

func (c *Controller) currentResult() (scan.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return scan.Result{}, ErrSessionClosed
	}
	if c.result == nil {
		return scan.Result{}, ErrNoResult
	}
	return *c.result, nil
}

func (c *Controller) checkSelectLocked() error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.state == StateScanning {
		return ErrScanInProgress
	}
	return nil
}

func (c *Controller) acceptLocked(f upload.File, validate func(upload.File) error) error {
	prev := c.state
	c.state = StateValidating
	c.notifyLocked()

	if err := validate(f); err != nil {
		kind := ErrorKindType
		var ve *upload.ValidationError
		if errors.As(err, &ve) {
			kind = ve.Rule
		}
		metrics.ValidationFailuresTotal.WithLabelValues(kind).Inc()
		c.logger.Debug("file rejected", "name", f.Name, "type", f.ContentType, "size", f.Size, "rule", kind)
		if prev == StateError {
			prev = c.resume
		}
		c.failLocked(err.Error(), kind, prev)
		return err
	}

	c.cancelPreviewLocked()
	c.cancelScanLocked()
	c.file = &f
	c.preview = ""
	c.previewErr = ""
	c.thumb = ""
	c.result = nil
	c.clearErrorLocked()
	c.progress = 0
	c.state = StatePreviewing
	c.notifyLocked()

	c.previewGen++
	gen := c.previewGen
	ctx, cancel := context.WithCancel(c.base)
	c.previewCancel = cancel
	c.wg.Add(1)
	go c.runPreview(ctx, gen, f)
	return nil
}

func (c *Controller) runPreview(ctx context.Context, gen uint64, f upload.File) {
	defer c.wg.Done()

	var p upload.Preview
	select {
	case <-ctx.Done():
		return
	case p = <-c.previewer.Render(ctx, f):
	}

	thumb := ""
	if p.Err == nil {
		var err error
		if thumb, err = c.thumbnail(f); err != nil {
			c.logger.Debug("thumbnail failed", "name", f.Name, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.previewGen {
		return
	}
	c.previewCancel = nil
	if p.Err != nil {
		c.logger.Debug("preview failed", "name", f.Name, "error", p.Err)
		c.previewErr = msgPreviewError
	} else {
		c.preview = p.DataURI
		c.previewSeq++
		c.thumb = thumb
	}
	switch {
	case c.state == StatePreviewing:
		c.state = StateReadyToScan
	case c.state == StateError && c.resume == StatePreviewing:
		c.resume = StateReadyToScan
	}
	c.notifyLocked()
}

func (c *Controller) startScanLocked() {
	c.cancelScanLocked()
	c.clearErrorLocked()
	c.result = nil
	c.progress = 0
	c.state = StateScanning
	c.notifyLocked()

	c.scanGen++
	gen := c.scanGen
	ctx, cancel := context.WithCancel(c.base)
	c.scanCancel = cancel
	data := c.file.Data
	c.wg.Add(1)
	go c.runScan(ctx, gen, data)
}

func (c *Controller) runScan(ctx context.Context, gen uint64, data []byte) {
	defer c.wg.Done()
	started := time.Now()
	t := c.timing

	ticker := time.NewTicker(t.ProgressInterval)
	defer ticker.Stop()
	uploaded := time.NewTimer(t.UploadDelay)
	defer uploaded.Stop()

uploading:
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.currentScanLocked(gen) {
				c.mu.Unlock()
				return
			}
			if c.progress < t.ProgressCap {
				c.progress = min(c.progress+t.ProgressStep, t.ProgressCap)
				c.notifyLocked()
			}
			c.mu.Unlock()
		case <-uploaded.C:
			break uploading
		}
	}
	ticker.Stop()

	c.mu.Lock()
	if !c.currentScanLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.progress = 100
	c.notifyLocked()
	c.mu.Unlock()

	analysis := time.NewTimer(t.AnalysisDelay)
	defer analysis.Stop()
	select {
	case <-ctx.Done():
		return
	case <-analysis.C:
	}

	res, err := c.scanner.Analyze(ctx, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentScanLocked(gen) || ctx.Err() != nil {
		return
	}
	c.scanCancel = nil
	if err != nil {
		metrics.ScanFailuresTotal.Inc()
		c.logger.Error("scan failed", "error", &ScanProcessingError{Err: err})
		c.progress = 0
		c.failLocked(msgScanFailed, ErrorKindProcessing, StateReadyToScan)
		return
	}

	c.result = &res
	c.state = StateComplete
	c.recorder.Record(context.WithoutCancel(ctx), res, c.thumb)
	metrics.ScansTotal.WithLabelValues(string(res.RiskLevel)).Inc()
	metrics.ScanDurationSeconds.WithLabelValues(metrics.SourceSession).Observe(time.Since(started).Seconds())
	c.logger.Info("scan complete", "scan_id", res.ScanID, "risk", res.RiskLevel, "confidence", res.Confidence)
	c.notifyLocked()
}

func (c *Controller) currentScanLocked(gen uint64) bool {
	return !c.closed && gen == c.scanGen && c.state == StateScanning
}

func (c *Controller) cancelPreviewLocked() {
	c.previewGen++
	if c.previewCancel != nil {
		c.previewCancel()
		c.previewCancel = nil
	}
}

func (c *Controller) cancelScanLocked() {
	c.scanGen++
	if c.scanCancel != nil {
		c.scanCancel()
		c.scanCancel = nil
	}
}

func (c *Controller) failLocked(msg, kind string, resume State) {
	c.errMsg = msg
	c.errKind = kind
	c.resume = resume
	c.state = StateError
	c.notifyLocked()
}

func (c *Controller) clearErrorLocked() {
	c.errMsg = ""
	c.errKind = ""
	c.resume = ""
}

// resumeStateLocked picks the state to return to when an error is dismissed.
func (c *Controller) resumeStateLocked() State {
	if c.file == nil {
		return StateIdle
	}
	switch c.resume {
	case StatePreviewing:
		return StatePreviewing
	case StateComplete:
		if c.result != nil {
			return StateComplete
		}
	}
	return StateReadyToScan
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:        c.state,
		Preview:      c.preview,
		PreviewError: c.previewErr,
		Error:        c.errMsg,
		ErrorKind:    c.errKind,
		Progress:     c.progress,
		Stage:        Stage(c.progress),
		Dragging:     c.dragging,
	}
	if c.preview != "" {
		s.PreviewVersion = c.previewSeq
	}
	if c.file != nil {
		s.FileName = c.file.Name
		s.FileType = c.file.ContentType
		s.FileSize = c.file.Size
		switch c.state {
		case StatePreviewing, StateReadyToScan, StateError:
			s.CanScan = true
		}
	}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	return s
}

func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	s := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot so the latest always lands.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
