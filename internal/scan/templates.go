package scan

// Band is an inclusive confidence range in percent.
type Band struct {
	Min int
	Max int
}

// Contains reports whether v lies within the band.
func (b Band) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// Template is a canned result. Confidence is drawn from Band on every scan.
//
// The bands are not ordered by severity (MEDIO sits below ALTO's floor and
// overlaps it). They are kept as shipped pending product input.
type Template struct {
	ID              int
	Diagnosis       string
	RiskLevel       RiskLevel
	Band            Band
	Description     string
	Recommendations []string
	NextSteps       []NextStep
}

var templates = []Template{
	{
		ID:          1,
		Diagnosis:   "Lesión benigna",
		RiskLevel:   RiskLow,
		Band:        Band{Min: 85, Max: 95},
		Description: "La imagen muestra características típicas de un nevus melanocítico benigno. Se recomienda seguimiento rutinario.",
		Recommendations: []string{
			"Monitorear cambios en tamaño, forma o color cada 6 meses",
			"Protección solar diaria con FPS 50+",
			"Revisión anual con dermatólogo",
			"Evitar exposición solar directa en horas pico",
		},
		NextSteps: []NextStep{
			{Text: "Autoexamen mensual", Priority: PriorityNormal},
			{Text: "Consulta anual programada", Priority: PriorityNormal},
		},
	},
	{
		ID:          2,
		Diagnosis:   "Lesión atípica",
		RiskLevel:   RiskMedium,
		Band:        Band{Min: 70, Max: 85},
		Description: "Se observan características atípicas que requieren evaluación profesional. No presenta signos claros de malignidad pero necesita seguimiento cercano.",
		Recommendations: []string{
			"Consulta dermatológica en los próximos 30 días",
			"Fotografía de seguimiento en 3 meses",
			"Biopsia según criterio médico",
			"Evitar manipulación de la lesión",
		},
		NextSteps: []NextStep{
			{Text: "Consulta en 1 mes", Priority: PriorityMedium},
			{Text: "Fotografía comparativa en 3 meses", Priority: PriorityMedium},
		},
	},
	{
		ID:          3,
		Diagnosis:   "Lesión sospechosa",
		RiskLevel:   RiskHigh,
		Band:        Band{Min: 80, Max: 90},
		Description: "Presenta características que requieren evaluación inmediata por especialista. Se recomienda atención prioritaria.",
		Recommendations: []string{
			"Consulta dermatológica urgente (1-2 semanas)",
			"Biopsia recomendada",
			"No automedicar ni manipular la lesión",
			"Protección solar estricta",
		},
		NextSteps: []NextStep{
			{Text: "Consulta urgente", Priority: PriorityHigh},
			{Text: "Posible biopsia", Priority: PriorityHigh},
		},
	},
}

// Templates returns a copy of the three canned templates.
func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		out[i] = t.clone()
	}
	return out
}

// BandFor returns the confidence band of the template with the given risk.
func BandFor(r RiskLevel) (Band, bool) {
	for _, t := range templates {
		if t.RiskLevel == r {
			return t.Band, true
		}
	}
	return Band{}, false
}

func (t Template) clone() Template {
	t.Recommendations = append([]string(nil), t.Recommendations...)
	t.NextSteps = append([]NextStep(nil), t.NextSteps...)
	return t
}
