package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var (
	//go:embed health_alert.html
	healthAlertHTML     string
	healthAlertTemplate = template.Must(template.New("health_alert.html").Parse(healthAlertHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type HealthAlertFormat struct {
	Source    string
	Endpoint  string
	From, To  string
	FailCount int
	LastError string
	At        time.Time
}

func (ef *HealthAlertFormat) Subject() string {
	return fmt.Sprintf("Dealwatch: source %s is %s", ef.Source, ef.To)
}

func (ef *HealthAlertFormat) Body() string {
	return mustFillTemplate(healthAlertTemplate, ef)
}

func (ef *HealthAlertFormat) Timestamp() string {
	return ef.At.UTC().Format(time.RFC3339)
}
