package report

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/analysis"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/transcription"
)

func TestMain(m *testing.M) {
	logging.Init()
	os.Exit(m.Run())
}

func testAnalysis() map[string]any {
	return map[string]any{
		"meta": map[string]any{
			"projectName":          "Résidence Les Chênes",
			"meetingTitle":         "Réunion de chantier",
			"meetingType":          "Réunion de chantier",
			"meetingDate":          "2025-03-14",
			"duration":             float64(45),
			"participantsExpected": float64(3),
			"participantsDetected": []any{"SPEAKER_0", "SPEAKER_1"},
		},
		"sectionsDynamiques": map[string]any{
			"avancementTravaux":   []any{"Dalle niveau 2 coulée", "Cloisons à 60%"},
			"problemesIdentifies": []any{"Fuite d'étanchéité au sous-sol"},
			"actionsUrgentes": []any{
				map[string]any{
					"action":      "Reprendre l'étanchéité",
					"responsable": "Marc",
					"echeance":    "Lundi",
					"priorite":    "urgente",
					"contexte":    "Risque d'infiltration",
				},
			},
			"risquesEtMitigations": []any{
				map[string]any{
					"risque":      "Retard météo",
					"categorie":   "Externe",
					"probabilite": "Élevée",
					"impact":      "Planning décalé d'une semaine",
					"mitigations": "Replanifier le coulage",
				},
			},
			"suiviQualite": []any{"Contrôle des soudures validé"},
		},
		"vueChronologique": []any{"[00:00-10:00] Tour de table et avancement"},
		"analysisMetrics": map[string]any{
			"totalSegments":     float64(12),
			"niveauDetaille":    "Élevé",
			"qualiteExtraction": "Bon",
		},
	}
}

func testReportSegments() []transcription.AlignedSegment {
	return []transcription.AlignedSegment{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 8, Text: "On démarre par l'avancement."},
		{Speaker: "SPEAKER_0", StartTime: 8, EndTime: 20, Text: "La dalle du niveau 2 est coulée."},
		{Speaker: "SPEAKER_1", StartTime: 20, EndTime: 35, Text: "Il reste la fuite au sous-sol."},
	}
}

func testReportMeta() analysis.Metadata {
	return analysis.Metadata{
		ProjectName:      "Résidence Les Chênes",
		Title:            "Réunion de chantier",
		Date:             "2025-03-14",
		DurationMinutes:  45,
		ExpectedSpeakers: 3,
		Participants:     []string{"SPEAKER_0", "SPEAKER_1"},
	}
}

// readDocxPart extracts one file from the generated archive.
func readDocxPart(t *testing.T, data []byte, name string) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(content)
	}
	t.Fatalf("part %s not found in archive", name)
	return ""
}

func TestGenerateProducesValidArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := NewGenerator().Generate(testAnalysis(), testReportSegments(), testReportMeta(), &buf)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "[Content_Types].xml")
	assert.Contains(t, names, "word/document.xml")
	assert.Contains(t, names, "word/styles.xml")
	assert.Contains(t, names, "word/header1.xml")
	assert.Contains(t, names, "word/footer1.xml")
}

func TestGenerateDocumentContent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := NewGenerator().Generate(testAnalysis(), testReportSegments(), testReportMeta(), &buf)
	require.NoError(t, err)

	doc := readDocxPart(t, buf.Bytes(), "word/document.xml")

	assert.Contains(t, doc, "CybeMeeting")
	assert.Contains(t, doc, "Rapport de Réunion BTP")
	assert.Contains(t, doc, "1. Informations générales")
	assert.Contains(t, doc, "Avancement des travaux")
	assert.Contains(t, doc, "Problèmes identifiés")
	assert.Contains(t, doc, "Actions urgentes")
	assert.Contains(t, doc, "Reprendre l&apos;étanchéité")
	assert.Contains(t, doc, "Risques et mitigations")
	assert.Contains(t, doc, "Retard météo")
	assert.Contains(t, doc, "ANNEXE - Transcription complète")
	assert.Contains(t, doc, "[00:20] Il reste la fuite au sous-sol.")
	assert.Contains(t, doc, "14/03/2025")

	// Custom sections outside the known list get a generated title.
	assert.Contains(t, doc, "Suivi Qualite")
}

func TestGenerateEmptyAnalysis(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := NewGenerator().Generate(map[string]any{}, nil, testReportMeta(), &buf)
	require.NoError(t, err)

	doc := readDocxPart(t, buf.Bytes(), "word/document.xml")
	assert.Contains(t, doc, "1. Informations générales")
	assert.Contains(t, doc, "Transcription non disponible.")
}

func TestHTMLPreview(t *testing.T) {
	t.Parallel()

	html, err := NewGenerator().HTMLPreview(testAnalysis())
	require.NoError(t, err)

	assert.Contains(t, html, "<div class=\"brand\">CybeMeeting</div>")
	assert.Contains(t, html, "Résidence Les Chênes")
	assert.Contains(t, html, "Avancement des travaux")
	assert.Contains(t, html, "<th>Priorité</th>")
	assert.Contains(t, html, "Retard météo")
	assert.Contains(t, html, "Vue chronologique de la réunion")
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
}

func TestTextPreview(t *testing.T) {
	t.Parallel()

	text, err := NewGenerator().TextPreview(testAnalysis())
	require.NoError(t, err)

	assert.Contains(t, text, "CybeMeeting")
	assert.Contains(t, text, "Dalle niveau 2 coulée")
	assert.NotContains(t, text, "<h1>")
}

func TestFormatSectionTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Suivi Qualite", formatSectionTitle("suiviQualite"))
	assert.Equal(t, "Points Divers", formatSectionTitle("points_divers"))
	assert.Equal(t, "Notes", formatSectionTitle("notes"))
}

func TestPriorityCellColors(t *testing.T) {
	t.Parallel()

	urgent := priorityCell("Urgente")
	assert.Equal(t, colorRed, urgent.color)
	assert.True(t, urgent.bold)

	medium := priorityCell("moyenne")
	assert.Equal(t, colorOrange, medium.color)

	low := priorityCell("faible")
	assert.Equal(t, colorGreen, low.color)
}
