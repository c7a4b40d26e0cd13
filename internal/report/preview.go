package report

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/k3a/html2text"

	"github.com/cybeform/cybemeeting/internal/errors"
)

type previewSection struct {
	Title   string
	Items   []string
	Actions []previewAction
	Risks   []previewRisk
}

type previewAction struct {
	Action      string
	Responsible string
	Due         string
	Priority    string
	Context     string
}

type previewRisk struct {
	Risk        string
	Category    string
	Probability string
	Impact      string
	Mitigation  string
	Responsible string
}

type previewData struct {
	Title        string
	ProjectName  string
	MeetingType  string
	MeetingDate  string
	Duration     string
	Participants string
	Sections     []previewSection
	Chronology   []string
	Metrics      []previewMetric
}

type previewMetric struct {
	Label string
	Value string
}

var previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Rapport de Réunion - {{.Title}}</title>
<style>
:root {
  --primary-color: #4F46E5;
  --secondary-color: #7C3AED;
  --gray-50: #F8FAFC;
  --gray-100: #F1F5F9;
  --gray-200: #E2E8F0;
  --gray-600: #475569;
  --gray-700: #334155;
  --border-radius: 0.75rem;
}
* { box-sizing: border-box; }
body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', Arial, sans-serif;
  line-height: 1.7;
  margin: 0;
  padding: 2rem;
  background: linear-gradient(135deg, var(--gray-50) 0%, #e0e7ff 100%);
  color: var(--gray-700);
  font-size: 15px;
}
.container {
  max-width: 900px;
  margin: 0 auto;
  background: white;
  padding: 2.5rem;
  border-radius: var(--border-radius);
  border: 1px solid var(--gray-200);
}
.header { text-align: center; margin-bottom: 2.5rem; }
.brand { color: var(--primary-color); font-size: 2rem; font-weight: 800; }
.subtitle { color: var(--secondary-color); font-size: 1.25rem; font-weight: 500; }
.meta-info {
  background: var(--gray-50);
  padding: 1.5rem;
  border-radius: 0.5rem;
  margin-bottom: 2rem;
  border: 1px solid var(--gray-200);
}
.meta-info div { color: var(--gray-600); font-weight: 500; }
h1 {
  color: var(--primary-color);
  font-size: 1.5rem;
  margin: 2rem 0 1rem 0;
  padding-bottom: 0.5rem;
  border-bottom: 2px solid var(--gray-200);
}
table { width: 100%; border-collapse: collapse; margin-bottom: 1.5rem; }
th {
  background: var(--gray-100);
  color: var(--primary-color);
  text-align: left;
  padding: 0.5rem;
  border: 1px solid var(--gray-200);
}
td { padding: 0.5rem; border: 1px solid var(--gray-200); }
ul { padding-left: 1.5rem; }
li { margin-bottom: 0.5rem; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <div class="brand">CybeMeeting</div>
    <div class="subtitle">Rapport de Réunion BTP</div>
  </div>
  <div class="meta-info">
    <div>Projet: {{.ProjectName}}</div>
    <div>Réunion: {{.Title}}</div>
    <div>Type: {{.MeetingType}}</div>
    <div>Date: {{.MeetingDate}}</div>
    <div>Durée: {{.Duration}} minutes</div>
    <div>Participants: {{.Participants}}</div>
  </div>
{{- range .Sections}}
  <h1>{{.Title}}</h1>
{{- if .Actions}}
  <table>
    <tr><th>Action</th><th>Responsable</th><th>Échéance</th><th>Priorité</th><th>Contexte</th></tr>
{{- range .Actions}}
    <tr><td>{{.Action}}</td><td>{{.Responsible}}</td><td>{{.Due}}</td><td>{{.Priority}}</td><td>{{.Context}}</td></tr>
{{- end}}
  </table>
{{- else if .Risks}}
  <table>
    <tr><th>Risque</th><th>Catégorie</th><th>Probabilité</th><th>Impact</th><th>Mitigation</th><th>Responsable</th></tr>
{{- range .Risks}}
    <tr><td>{{.Risk}}</td><td>{{.Category}}</td><td>{{.Probability}}</td><td>{{.Impact}}</td><td>{{.Mitigation}}</td><td>{{.Responsible}}</td></tr>
{{- end}}
  </table>
{{- else}}
  <ul>
{{- range .Items}}
    <li>{{.}}</li>
{{- end}}
  </ul>
{{- end}}
{{- end}}
{{- if .Chronology}}
  <h1>Vue chronologique de la réunion</h1>
  <ul>
{{- range .Chronology}}
    <li>{{.}}</li>
{{- end}}
  </ul>
{{- end}}
{{- if .Metrics}}
  <h1>Métriques d'analyse</h1>
  <table>
    <tr><th>Métrique</th><th>Valeur</th></tr>
{{- range .Metrics}}
    <tr><td>{{.Label}}</td><td>{{.Value}}</td></tr>
{{- end}}
  </table>
{{- end}}
</div>
</body>
</html>
`))

// HTMLPreview renders the analysis as a standalone HTML page, used for the
// in-app report preview.
func (g *Generator) HTMLPreview(analysisData map[string]any) (string, error) {
	meta := asMap(analysisData["meta"])
	sections := asMap(analysisData["sectionsDynamiques"])

	data := previewData{
		Title:        stringValue(meta, "meetingTitle", "Réunion"),
		ProjectName:  stringValue(meta, "projectName", "Non spécifié"),
		MeetingType:  stringValue(meta, "meetingType", "Autre"),
		MeetingDate:  formatDate(stringValue(meta, "meetingDate", "")),
		Duration:     stringValue(meta, "duration", "0"),
		Participants: joinList(meta["participantsDetected"]),
	}

	counter := 2
	for _, entry := range sectionOrder {
		content := sections[entry.key]
		if !hasContent(content) {
			continue
		}
		section := previewSection{Title: numberedTitle(counter, entry.title)}
		switch entry.key {
		case "actionsUrgentes", "actionsReguliers":
			section.Actions = previewActions(asList(content))
		case "risquesEtMitigations":
			section.Risks = previewRisks(asList(content))
		default:
			section.Items = previewItems(content)
		}
		data.Sections = append(data.Sections, section)
		counter++
	}
	for _, key := range customSectionKeys(sections) {
		data.Sections = append(data.Sections, previewSection{
			Title: numberedTitle(counter, formatSectionTitle(key)),
			Items: previewItems(sections[key]),
		})
		counter++
	}

	for _, entry := range asList(analysisData["vueChronologique"]) {
		data.Chronology = append(data.Chronology, stringify(entry))
	}

	if metrics := asMap(analysisData["analysisMetrics"]); len(metrics) > 0 {
		labels := []struct{ key, label string }{
			{"totalSegments", "Segments de transcription"},
			{"segmentsAnalyses", "Segments analysés"},
			{"niveauDetaille", "Niveau de détail"},
			{"couvertureSujets", "Couverture des sujets"},
			{"qualiteExtraction", "Qualité de l'extraction"},
		}
		for _, entry := range labels {
			if value, ok := metrics[entry.key]; ok {
				data.Metrics = append(data.Metrics, previewMetric{Label: entry.label, Value: stringify(value)})
			}
		}
	}

	var b strings.Builder
	if err := previewTemplate.Execute(&b, data); err != nil {
		return "", errors.New(err).
			Component("report").
			Category(errors.CategoryReport).
			Context("operation", "render_preview").
			Build()
	}
	return b.String(), nil
}

// TextPreview is the plain text rendition of the HTML preview.
func (g *Generator) TextPreview(analysisData map[string]any) (string, error) {
	htmlStr, err := g.HTMLPreview(analysisData)
	if err != nil {
		return "", err
	}
	return html2text.HTML2Text(htmlStr), nil
}

func numberedTitle(counter int, title string) string {
	return fmt.Sprintf("%d. %s", counter, title)
}

func previewItems(content any) []string {
	items := asList(content)
	if len(items) == 0 {
		if text := stringify(content); text != "" {
			return []string{text}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, stringify(item))
	}
	return out
}

func previewActions(actions []any) []previewAction {
	out := make([]previewAction, 0, len(actions))
	for _, item := range actions {
		action := asMap(item)
		if len(action) == 0 {
			out = append(out, previewAction{Action: stringify(item), Responsible: "Non assigné", Due: "Non définie", Priority: "Moyenne"})
			continue
		}
		context := stringValue(action, "contexte", "")
		if context == "" {
			context = stringValue(action, "dependances", "")
		}
		out = append(out, previewAction{
			Action:      firstValue(action, "action", "tache"),
			Responsible: stringValue(action, "responsable", "Non assigné"),
			Due:         stringValue(action, "echeance", "Non définie"),
			Priority:    stringValue(action, "priorite", "Moyenne"),
			Context:     context,
		})
	}
	return out
}

func previewRisks(risks []any) []previewRisk {
	out := make([]previewRisk, 0, len(risks))
	for _, item := range risks {
		risk := asMap(item)
		if len(risk) == 0 {
			out = append(out, previewRisk{Risk: stringify(item), Category: "Général"})
			continue
		}
		mitigation := stringValue(risk, "mitigations", "")
		if mitigation == "" {
			mitigation = stringValue(risk, "mitigation", "")
		}
		responsible := stringValue(risk, "responsableRisque", "")
		if responsible == "" {
			responsible = stringValue(risk, "responsable", "Non assigné")
		}
		out = append(out, previewRisk{
			Risk:        stringValue(risk, "risque", "Non spécifié"),
			Category:    stringValue(risk, "categorie", "Général"),
			Probability: stringValue(risk, "probabilite", "Moyenne"),
			Impact:      stringValue(risk, "impact", ""),
			Mitigation:  mitigation,
			Responsible: responsible,
		})
	}
	return out
}
