// Package message renders notification captions from text/template.
package message

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata"

	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
)

const DefaultAlertTemplate = `🔴 ПОВІТРЯНА ТРИВОГА{{ if .Sequence }} #{{ .Sequence }}{{ end }}
📍 {{ .Location }}
🕐 {{ .Time.Format "15:04, 02.01.2006" }}
{{ if .Threats }}⚠️ {{ join .Threats ", " }}{{ end }}
{{ if .Note }}📝 {{ .Note }}{{ end }}
{{ if .Districts }}🏘 Райони: {{ join .Districts ", " }}{{ if .MoreDistricts }} та інші{{ end }}{{ end }}
{{ with .Country }}{{ if .TotalAlerts }}🇺🇦 По країні: {{ .TotalAlerts }} тривог, областей: {{ .SubdivisionCount }}{{ end }}{{ end }}
{{ with .Weather }}{{ .Icon }} {{ .Temp }}°C (відчувається як {{ .Feels }}°C), {{ .Desc }}
💨 Вітер {{ .WindDir }} {{ .Wind }} м/с, вологість {{ .Humidity }}%{{ end }}
Прямуйте до укриття!`

const DefaultClearTemplate = `🟢 ВІДБІЙ ТРИВОГИ{{ if .Sequence }} #{{ .Sequence }}{{ end }}
📍 {{ .Location }}
🕐 {{ .Time.Format "15:04, 02.01.2006" }}
{{ if .Duration }}⏱ Тривалість: {{ duration .Duration }}{{ end }}
{{ with .Country }}{{ if .TotalAlerts }}🇺🇦 По країні ще {{ .TotalAlerts }} тривог{{ else }}🇺🇦 По країні тривог немає{{ end }}{{ end }}
{{ with .Weather }}{{ .Icon }} {{ .Temp }}°C, {{ .Desc }}{{ end }}`

// Data is everything a caption may mention.
type Data struct {
	Alerted       bool
	Location      string
	Time          time.Time
	Threats       []string
	Note          string
	Districts     []string
	MoreDistricts bool
	Country       *resolver.CountrySummary
	Weather       *models.Weather
	Duration      time.Duration
	// Sequence numbers the day's alerts for a watched location; 0 omits it.
	Sequence int
}

type Renderer struct {
	alert *template.Template
	clear *template.Template
	zone  *time.Location
}

var funcs = template.FuncMap{
	"join":     strings.Join,
	"duration": formatDuration,
}

// NewRenderer parses the given templates; empty strings select the defaults.
func NewRenderer(alertTmpl, clearTmpl string) (*Renderer, error) {
	if alertTmpl == "" {
		alertTmpl = DefaultAlertTemplate
	}
	if clearTmpl == "" {
		clearTmpl = DefaultClearTemplate
	}

	alert, err := template.New("alert").Funcs(funcs).Option("missingkey=error").Parse(alertTmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert template: %w", err)
	}
	clr, err := template.New("clear").Funcs(funcs).Option("missingkey=error").Parse(clearTmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clear template: %w", err)
	}

	zone, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		zone = time.UTC
	}

	return &Renderer{alert: alert, clear: clr, zone: zone}, nil
}

// Zone is the time zone captions are rendered in.
func (r *Renderer) Zone() *time.Location {
	return r.zone
}

// Render produces the caption for d. Lines left empty by the template are
// dropped.
func (r *Renderer) Render(d Data) (string, error) {
	t := r.clear
	if d.Alerted {
		t = r.alert
	}
	d.Time = d.Time.In(r.zone)

	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", t.Name(), err)
	}

	lines := strings.Split(buf.String(), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimRight(l, " "))
		}
	}
	return strings.Join(kept, "\n"), nil
}

var threatLabels = map[models.ThreatType]string{
	models.ThreatAirRaid:     "Ракетна/авіаційна загроза",
	models.ThreatArtillery:   "Артобстріл",
	models.ThreatUrbanFights: "Вуличні бої",
	models.ThreatNuclear:     "Ядерна загроза",
	models.ThreatChemical:    "Хімічна загроза",
	models.ThreatOther:       "Інша загроза",
}

// ThreatLabel translates a threat kind for display.
func ThreatLabel(t string) string {
	if l, ok := threatLabels[models.ThreatType(t)]; ok {
		return l
	}
	return t
}

func ThreatLabels(threats []string) []string {
	out := make([]string, len(threats))
	for i, t := range threats {
		out[i] = ThreatLabel(t)
	}
	return out
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%d год %d хв", h, m)
	case h > 0:
		return fmt.Sprintf("%d год", h)
	default:
		return fmt.Sprintf("%d хв", m)
	}
}
