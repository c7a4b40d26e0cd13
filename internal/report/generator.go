package report

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cybeform/cybemeeting/internal/analysis"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/transcription"
)

// sectionOrder fixes the rendering order of the known analysis sections and
// their French titles. Unknown sections are appended after these.
var sectionOrder = []struct {
	key   string
	title string
}{
	{"etatLieux", "État des lieux"},
	{"avancementTravaux", "Avancement des travaux"},
	{"problemesIdentifies", "Problèmes identifiés"},
	{"decisionsStrategiques", "Décisions stratégiques"},
	{"objectifs", "Objectifs de la réunion"},
	{"actionsUrgentes", "Actions urgentes"},
	{"actionsReguliers", "Actions de suivi"},
	{"aspectsTechniques", "Aspects techniques"},
	{"planningEtDelais", "Planning et délais"},
	{"aspectsFinanciers", "Aspects financiers"},
	{"relationsFournisseurs", "Relations fournisseurs"},
	{"aspectsReglementaires", "Aspects réglementaires"},
	{"communicationClient", "Communication client"},
	{"risquesEtMitigations", "Risques et mitigations"},
	{"pointsDivers", "Points divers"},
	{"syntheseDesAccords", "Synthèse des accords"},
	{"pointsEnSuspens", "Points en suspens"},
}

// Generator renders analysis results as Word documents.
type Generator struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{
		logger: logging.ForService("report"),
		now:    time.Now,
	}
}

// Generate writes the full meeting report as a docx archive to w.
func (g *Generator) Generate(analysisData map[string]any, segments []transcription.AlignedSegment, meta analysis.Metadata, w io.Writer) error {
	start := time.Now()

	doc := newDocument(
		"CybeMeeting - Rapport de Réunion BTP",
		fmt.Sprintf("%s - %s", orDefault(meta.ProjectName, "Projet BTP"), g.now().Format("02/01/2006")),
	)

	analysisMeta := asMap(analysisData["meta"])
	sections := asMap(analysisData["sectionsDynamiques"])

	g.addCoverPage(doc, analysisMeta)
	doc.pageBreak()
	g.addTableOfContents(doc, analysisData, sections)
	doc.pageBreak()
	g.addGeneralInformation(doc, analysisMeta)
	g.addSections(doc, sections)
	if chrono := asList(analysisData["vueChronologique"]); len(chrono) > 0 {
		g.addChronologicalView(doc, chrono)
	}
	if metrics := asMap(analysisData["analysisMetrics"]); len(metrics) > 0 {
		g.addAnalysisMetrics(doc, metrics)
	}
	doc.pageBreak()
	g.addTranscriptAppendix(doc, segments)

	if err := doc.write(w); err != nil {
		return err
	}

	g.logger.Info("report generated",
		"project", meta.ProjectName,
		"sections", len(sections),
		"segments", len(segments),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (g *Generator) addCoverPage(doc *document, meta map[string]any) {
	doc.paragraph("CybeMeeting", paraProps{centered: true}, runProps{bold: true, sizePt: 28, color: colorPrimary})
	doc.paragraph("Rapport de Réunion BTP", paraProps{centered: true}, runProps{sizePt: 18, color: colorSecondary})
	doc.spacer()
	doc.spacer()

	lines := []string{
		"Projet: " + stringValue(meta, "projectName", "Non spécifié"),
		"Type de réunion: " + stringValue(meta, "meetingType", "Autre"),
		"Réunion: " + stringValue(meta, "meetingTitle", "Non spécifié"),
		"Date: " + formatDate(stringValue(meta, "meetingDate", "")),
		fmt.Sprintf("Durée: %s minutes", stringValue(meta, "duration", "0")),
		"Participants détectés: " + joinList(meta["participantsDetected"]),
		"Participants attendus: " + stringValue(meta, "participantsExpected", "Non spécifié"),
	}
	for _, line := range lines {
		doc.paragraph(line, paraProps{centered: true}, runProps{sizePt: 14})
	}

	doc.spacer()
	doc.spacer()
	doc.paragraph(
		fmt.Sprintf("Rapport généré le %s", g.now().Format("02/01/2006 à 15:04")),
		paraProps{centered: true}, runProps{sizePt: 10, italic: true})
}

func (g *Generator) addTableOfContents(doc *document, analysisData map[string]any, sections map[string]any) {
	doc.paragraph("SOMMAIRE", paraProps{style: "Heading1", centered: true}, runProps{})

	items := []string{"1. Informations générales"}
	counter := 2
	for _, entry := range sectionOrder {
		if hasContent(sections[entry.key]) {
			items = append(items, fmt.Sprintf("%d. %s", counter, entry.title))
			counter++
		}
	}
	for _, key := range customSectionKeys(sections) {
		items = append(items, fmt.Sprintf("%d. %s", counter, formatSectionTitle(key)))
		counter++
	}
	if len(asList(analysisData["vueChronologique"])) > 0 {
		items = append(items, fmt.Sprintf("%d. Vue chronologique de la réunion", counter))
		counter++
	}
	if len(asMap(analysisData["analysisMetrics"])) > 0 {
		items = append(items, fmt.Sprintf("%d. Métriques d'analyse", counter))
	}
	items = append(items, "ANNEXE - Transcription complète")

	for _, item := range items {
		doc.paragraph(item, paraProps{indentTwips: 720}, runProps{})
	}
}

func (g *Generator) addGeneralInformation(doc *document, meta map[string]any) {
	doc.heading("1. Informations générales", 1)

	rows := [][]tableCell{
		infoRow("Projet", stringValue(meta, "projectName", "Non spécifié")),
		infoRow("Titre de la réunion", stringValue(meta, "meetingTitle", "Non spécifié")),
		infoRow("Type de réunion", stringValue(meta, "meetingType", "Non spécifié")),
		infoRow("Date de la réunion", formatDate(stringValue(meta, "meetingDate", ""))),
		infoRow("Durée", stringValue(meta, "duration", "0")+" minutes"),
		infoRow("Participants attendus", stringValue(meta, "participantsExpected", "Non spécifié")),
		infoRow("Participants détectés", joinList(meta["participantsDetected"])),
	}
	if instructions := stringValue(meta, "userInstructions", ""); instructions != "" {
		rows = append(rows, infoRow("Instructions spécifiques", instructions))
	}
	if attendance := stringValue(meta, "attendanceAnalysis", ""); attendance != "" {
		rows = append(rows, infoRow("Analyse de présence", attendance))
	}

	doc.table([]string{"Élément", "Information"}, rows)
}

func infoRow(label, value string) []tableCell {
	return []tableCell{
		{text: label, bold: true, color: colorSecondary},
		cell(value),
	}
}

func (g *Generator) addSections(doc *document, sections map[string]any) {
	counter := 2
	for _, entry := range sectionOrder {
		content := sections[entry.key]
		if !hasContent(content) {
			continue
		}
		title := fmt.Sprintf("%d. %s", counter, entry.title)
		switch entry.key {
		case "actionsUrgentes", "actionsReguliers":
			g.addActionsTable(doc, title, asList(content))
		case "risquesEtMitigations":
			g.addRisksTable(doc, title, asList(content))
		default:
			g.addSection(doc, title, content)
		}
		counter++
	}
	for _, key := range customSectionKeys(sections) {
		g.addSection(doc, fmt.Sprintf("%d. %s", counter, formatSectionTitle(key)), sections[key])
		counter++
	}
}

// addSection renders a generic section, one bullet line per item. Structured
// items are flattened to "label: value" pairs.
func (g *Generator) addSection(doc *document, title string, content any) {
	doc.heading(title, 1)
	items := asList(content)
	if len(items) == 0 {
		if text := stringify(content); text != "" {
			doc.para(text)
		} else {
			doc.para("Aucun élément.")
		}
		doc.spacer()
		return
	}
	for _, item := range items {
		doc.paragraph("• "+stringify(item), paraProps{indentTwips: 360}, runProps{})
	}
	doc.spacer()
}

func (g *Generator) addActionsTable(doc *document, title string, actions []any) {
	doc.heading(title, 1)
	if len(actions) == 0 {
		doc.para("Aucune action définie.")
		return
	}

	rows := make([][]tableCell, 0, len(actions))
	for _, item := range actions {
		action := asMap(item)
		if len(action) == 0 {
			rows = append(rows, []tableCell{
				{text: stringify(item), sizePt: 10},
				cell("Non assigné"), cell("Non définie"), cell("Moyenne"), cell("Non spécifié"),
			})
			continue
		}
		priority := stringValue(action, "priorite", "Moyenne")
		context := stringValue(action, "contexte", "")
		if context == "" {
			context = stringValue(action, "dependances", "Non spécifié")
		}
		rows = append(rows, []tableCell{
			{text: firstValue(action, "action", "tache"), sizePt: 10},
			cell(stringValue(action, "responsable", "Non assigné")),
			cell(stringValue(action, "echeance", "Non définie")),
			priorityCell(priority),
			{text: context, sizePt: 9},
		})
	}

	doc.table([]string{"Action", "Responsable", "Échéance", "Priorité", "Contexte"}, rows)
}

func (g *Generator) addRisksTable(doc *document, title string, risks []any) {
	doc.heading(title, 1)
	if len(risks) == 0 {
		doc.para("Aucun risque identifié.")
		return
	}

	rows := make([][]tableCell, 0, len(risks))
	for _, item := range risks {
		risk := asMap(item)
		if len(risk) == 0 {
			rows = append(rows, []tableCell{
				{text: stringify(item), sizePt: 10},
				cell("Général"), cell("Moyenne"), cell("Non spécifié"), cell("Non spécifié"), cell("Non assigné"),
			})
			continue
		}
		mitigation := stringValue(risk, "mitigations", "")
		if mitigation == "" {
			mitigation = stringValue(risk, "mitigation", "Non spécifié")
		}
		responsible := stringValue(risk, "responsableRisque", "")
		if responsible == "" {
			responsible = stringValue(risk, "responsable", "Non assigné")
		}
		rows = append(rows, []tableCell{
			{text: stringValue(risk, "risque", "Non spécifié"), sizePt: 10},
			cell(stringValue(risk, "categorie", "Général")),
			priorityCell(stringValue(risk, "probabilite", "Moyenne")),
			{text: stringValue(risk, "impact", "Non spécifié"), sizePt: 9},
			{text: mitigation, sizePt: 9},
			cell(responsible),
		})
	}

	doc.table([]string{"Risque", "Catégorie", "Probabilité", "Impact", "Mitigation", "Responsable"}, rows)
}

// priorityCell colors a priority or probability label.
func priorityCell(value string) tableCell {
	switch strings.ToLower(value) {
	case "haute", "urgent", "urgente", "élevée", "high":
		return tableCell{text: value, color: colorRed, bold: true}
	case "moyenne", "normal", "normale", "medium":
		return tableCell{text: value, color: colorOrange}
	default:
		return tableCell{text: value, color: colorGreen}
	}
}

func (g *Generator) addChronologicalView(doc *document, entries []any) {
	doc.heading("Vue chronologique de la réunion", 1)
	for _, entry := range entries {
		doc.paragraph("• "+stringify(entry), paraProps{indentTwips: 360}, runProps{})
	}
	doc.spacer()
}

func (g *Generator) addAnalysisMetrics(doc *document, metrics map[string]any) {
	doc.heading("Métriques d'analyse", 1)

	labels := []struct{ key, label string }{
		{"totalSegments", "Segments de transcription"},
		{"segmentsAnalyses", "Segments analysés"},
		{"niveauDetaille", "Niveau de détail"},
		{"couvertureSujets", "Couverture des sujets"},
		{"qualiteExtraction", "Qualité de l'extraction"},
	}
	rows := make([][]tableCell, 0, len(labels))
	for _, entry := range labels {
		if value, ok := metrics[entry.key]; ok {
			rows = append(rows, infoRow(entry.label, stringify(value)))
		}
	}
	doc.table([]string{"Métrique", "Valeur"}, rows)
}

func (g *Generator) addTranscriptAppendix(doc *document, segments []transcription.AlignedSegment) {
	doc.heading("ANNEXE - Transcription complète", 1)
	if len(segments) == 0 {
		doc.para("Transcription non disponible.")
		return
	}

	currentSpeaker := ""
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != currentSpeaker {
			if currentSpeaker != "" {
				doc.spacer()
			}
			doc.paragraph(seg.Speaker, paraProps{}, runProps{bold: true, color: colorPrimary})
			currentSpeaker = seg.Speaker
		}
		minutes := int(seg.StartTime) / 60
		seconds := int(seg.StartTime) % 60
		doc.paragraph(fmt.Sprintf("[%02d:%02d] %s", minutes, seconds, text),
			paraProps{indentTwips: 720}, runProps{})
	}
}

// helpers

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func hasContent(v any) bool {
	if v == nil {
		return false
	}
	if list := asList(v); list != nil {
		return len(list) > 0
	}
	if m := asMap(v); m != nil {
		return len(m) > 0
	}
	return strings.TrimSpace(stringify(v)) != ""
}

// customSectionKeys returns the section keys outside the known ordering,
// sorted for deterministic output.
func customSectionKeys(sections map[string]any) []string {
	known := make(map[string]struct{}, len(sectionOrder))
	for _, entry := range sectionOrder {
		known[entry.key] = struct{}{}
	}
	var keys []string
	for key, content := range sections {
		if _, ok := known[key]; ok {
			continue
		}
		if hasContent(content) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// formatSectionTitle turns a camelCase or snake_case key into a readable
// title.
func formatSectionTitle(key string) string {
	title := strings.ReplaceAll(key, "_", " ")
	var b strings.Builder
	for i, r := range title {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(title[i-1])
			if prev >= 'a' && prev <= 'z' {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	words := strings.Fields(b.String())
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func stringValue(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	return fallback
}

func firstValue(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m, key, ""); s != "" {
			return s
		}
	}
	return ""
}

// stringify renders any JSON-decoded value as display text. Maps become
// "label: value" pairs joined with " | ".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case bool:
		if t {
			return "Oui"
		}
		return "Non"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for key := range t {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", formatSectionTitle(key), stringify(t[key])))
		}
		return strings.Join(parts, " | ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

func joinList(v any) string {
	items := asList(v)
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, stringify(item))
	}
	if len(parts) == 0 {
		return "Aucun"
	}
	return strings.Join(parts, ", ")
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// formatDate converts ISO dates to the French day first layout.
func formatDate(dateStr string) string {
	if dateStr == "" {
		return "Non spécifié"
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return dateStr
}
