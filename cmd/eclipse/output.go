package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/eclipse/internal/scan"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func riskColor(r scan.RiskLevel) string {
	switch r {
	case scan.RiskHigh:
		return colorRed
	case scan.RiskMedium:
		return colorYellow
	default:
		return colorGreen
	}
}

func priorityMark(p scan.Priority) string {
	switch p {
	case scan.PriorityHigh:
		return colorize(colorRed, "!!")
	case scan.PriorityMedium:
		return colorize(colorYellow, "! ")
	default:
		return "  "
	}
}

// printResult renders a result the way the results card lays it out.
func printResult(w io.Writer, r scan.Result) {
	fmt.Fprintf(w, "%s\n", colorize(colorBold, r.Diagnosis))
	fmt.Fprintf(w, "  Nivel de Riesgo: %s\n", colorize(riskColor(r.RiskLevel), string(r.RiskLevel)))
	fmt.Fprintf(w, "  Confianza:       %d%%\n", r.Confidence)
	fmt.Fprintf(w, "  Fecha:           %s\n", r.Timestamp)
	fmt.Fprintf(w, "  ID:              %s\n\n", colorize(colorCyan, r.ScanID))
	fmt.Fprintf(w, "%s\n\n", r.Description)

	fmt.Fprintln(w, colorize(colorBold, "Recomendaciones:"))
	for i, rec := range r.Recommendations {
		fmt.Fprintf(w, "  %d. %s\n", i+1, rec)
	}
	if len(r.NextSteps) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, colorize(colorBold, "Próximos pasos:"))
		for _, s := range r.NextSteps {
			fmt.Fprintf(w, "  %s %s\n", priorityMark(s.Priority), s.Text)
		}
	}
}
