package scan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SpecialistsURL is the external dermatologist directory.
const SpecialistsURL = "https://www.aedv.es/buscador-de-dermatologos/"

const disclaimer = "⚠️ Este es un análisis preliminar. Consulta a un dermatólogo."

// Report renders r as the plain-text summary copied to the clipboard.
func Report(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnóstico: %s\n", r.Diagnosis)
	fmt.Fprintf(&b, "Nivel de Riesgo: %s\n", r.RiskLevel)
	fmt.Fprintf(&b, "Confianza: %d%%\n", r.Confidence)
	fmt.Fprintf(&b, "Fecha: %s\n\n", r.Timestamp)
	fmt.Fprintf(&b, "Descripción: %s\n\n", r.Description)
	b.WriteString("Recomendaciones:\n")
	for i, rec := range r.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}
	b.WriteString("\n")
	b.WriteString(disclaimer)
	return b.String()
}

// ExportJSON returns r as indented JSON for download.
func ExportJSON(r Result) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling result: %w", err)
	}
	return data, nil
}

// ExportFilename names a downloaded result after the export time.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("eclipse-resultado-%d.json", now.UnixMilli())
}
