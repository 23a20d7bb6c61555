package scan

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"regexp"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, time.October, 17, 9, 5, 0, 0, time.UTC)

func newTestEngine(seed uint64) *Engine {
	return NewEngine(
		WithRand(rand.New(rand.NewPCG(seed, seed+1))),
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
	)
}

func TestScan_ConfidenceWithinTemplateBand(t *testing.T) {
	e := newTestEngine(1)
	seen := map[RiskLevel]bool{}

	for i := 0; i < 2000; i++ {
		r := e.Scan()
		if !r.RiskLevel.Valid() {
			t.Fatalf("RiskLevel = %q, not one of the three tiers", r.RiskLevel)
		}
		band, ok := BandFor(r.RiskLevel)
		if !ok {
			t.Fatalf("no band for %q", r.RiskLevel)
		}
		if !band.Contains(r.Confidence) {
			t.Fatalf("confidence %d outside band %+v for %q", r.Confidence, band, r.RiskLevel)
		}
		seen[r.RiskLevel] = true
	}

	if len(seen) != 3 {
		t.Errorf("saw %d risk levels in 2000 scans, want all 3", len(seen))
	}
}

func TestScan_RoughlyUniform(t *testing.T) {
	e := newTestEngine(7)
	counts := map[int]int{}
	const n = 3000
	for i := 0; i < n; i++ {
		counts[e.Scan().TemplateID]++
	}
	for id := 1; id <= 3; id++ {
		if c := counts[id]; c < n/3-200 || c > n/3+200 {
			t.Errorf("template %d chosen %d times out of %d, expected about %d", id, c, n, n/3)
		}
	}
}

func TestScan_IDAndTimestamp(t *testing.T) {
	r := newTestEngine(3).Scan()

	re := regexp.MustCompile(`^SCAN-1792227900000-[0-9a-z]{9}$`)
	if !re.MatchString(r.ScanID) {
		t.Errorf("ScanID = %q, want SCAN-<ms>-<9 base36>", r.ScanID)
	}
	if r.Timestamp != "17 de octubre de 2026, 09:05" {
		t.Errorf("Timestamp = %q", r.Timestamp)
	}
	if !r.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, fixedNow)
	}
}

func TestScan_ResultsDoNotShareSlices(t *testing.T) {
	e := newTestEngine(11)
	a := e.Scan()
	a.Recommendations[0] = "mutated"
	a.NextSteps[0].Text = "mutated"

	for i := 0; i < 50; i++ {
		b := e.Scan()
		if b.Recommendations[0] == "mutated" || b.NextSteps[0].Text == "mutated" {
			t.Fatal("mutating one result leaked into a later one")
		}
	}
	for _, tpl := range Templates() {
		if tpl.Recommendations[0] == "mutated" {
			t.Fatal("template mutated through a result")
		}
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestEngine(1).Analyze(ctx, nil); err == nil {
		t.Error("Analyze with cancelled context returned nil error")
	}
}

func TestTemplates_Bands(t *testing.T) {
	want := map[RiskLevel]Band{
		RiskLow:    {85, 95},
		RiskMedium: {70, 85},
		RiskHigh:   {80, 90},
	}
	tpls := Templates()
	if len(tpls) != 3 {
		t.Fatalf("len(Templates()) = %d, want 3", len(tpls))
	}
	for _, tpl := range tpls {
		if tpl.Band != want[tpl.RiskLevel] {
			t.Errorf("band for %q = %+v, want %+v", tpl.RiskLevel, tpl.Band, want[tpl.RiskLevel])
		}
	}
}

func TestReport_Format(t *testing.T) {
	r := Result{
		Diagnosis:       "Lesión benigna",
		RiskLevel:       RiskLow,
		Confidence:      90,
		Timestamp:       "17 de octubre de 2026, 09:05",
		Description:     "desc",
		Recommendations: []string{"uno", "dos"},
	}

	want := "Diagnóstico: Lesión benigna\n" +
		"Nivel de Riesgo: BAJO\n" +
		"Confianza: 90%\n" +
		"Fecha: 17 de octubre de 2026, 09:05\n\n" +
		"Descripción: desc\n\n" +
		"Recomendaciones:\n" +
		"1. uno\n" +
		"2. dos\n\n" +
		"⚠️ Este es un análisis preliminar. Consulta a un dermatólogo."

	if got := Report(r); got != want {
		t.Errorf("Report mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestExportJSON_Indented(t *testing.T) {
	r := newTestEngine(5).Scan()
	data, err := ExportJSON(r)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"scanId\": ") {
		t.Errorf("expected two-space indentation, got:\n%s", data)
	}

	var back Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.ScanID != r.ScanID {
		t.Errorf("ScanID = %q, want %q", back.ScanID, r.ScanID)
	}
}

func TestExportFilename(t *testing.T) {
	if got := ExportFilename(fixedNow); got != "eclipse-resultado-1792227900000.json" {
		t.Errorf("ExportFilename = %q", got)
	}
}
