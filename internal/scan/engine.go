package scan

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	idSuffixLen  = 9
	base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Engine produces mock results. It has no state beyond its random source
// and clock, both injectable for tests.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
	loc *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand replaces the random source.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone used for the display timestamp.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// NewEngine returns an Engine seeded from the runtime's random source.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scan picks one of the three templates uniformly at random and fills in a
// fresh confidence, id and timestamp.
func (e *Engine) Scan() Result {
	now := e.now()

	e.mu.Lock()
	t := templates[e.rng.IntN(len(templates))].clone()
	confidence := t.Band.Min + e.rng.IntN(t.Band.Max-t.Band.Min+1)
	suffix := e.suffixLocked()
	e.mu.Unlock()

	return Result{
		ScanID:          fmt.Sprintf("SCAN-%d-%s", now.UnixMilli(), suffix),
		TemplateID:      t.ID,
		Diagnosis:       t.Diagnosis,
		Confidence:      confidence,
		RiskLevel:       t.RiskLevel,
		Description:     t.Description,
		Recommendations: t.Recommendations,
		NextSteps:       t.NextSteps,
		Timestamp:       FormatTimestamp(now.In(e.loc)),
		CreatedAt:       now.UTC(),
	}
}

// Analyze is Scan behind the context-aware signature used by the workflow.
// The image content is ignored.
func (e *Engine) Analyze(ctx context.Context, _ []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return e.Scan(), nil
}

func (e *Engine) suffixLocked() string {
	var b strings.Builder
	b.Grow(idSuffixLen)
	for range idSuffixLen {
		b.WriteByte(base36Digits[e.rng.IntN(len(base36Digits))])
	}
	return b.String()
}

var monthsES = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// FormatTimestamp renders t the way an es-ES locale prints a long date
// with hour and minute, e.g. "17 de octubre de 2026, 09:05".
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d de %s de %d, %02d:%02d",
		t.Day(), monthsES[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}
