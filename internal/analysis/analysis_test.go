package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/transcription"
)

func TestMain(m *testing.M) {
	logging.Init()
	os.Exit(m.Run())
}

func testSegments() []transcription.AlignedSegment {
	return []transcription.AlignedSegment{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 12.5, Text: "Le coulage de la dalle du niveau 2 est terminé."},
		{Speaker: "SPEAKER_1", StartTime: 12.5, EndTime: 30, Text: "Il reste un problème d'étanchéité au sous-sol."},
		{Speaker: "SPEAKER_0", StartTime: 30, EndTime: 45, Text: "On planifie l'intervention pour lundi prochain."},
	}
}

func testMeta() Metadata {
	return Metadata{
		ProjectName:      "Résidence Les Chênes",
		Title:            "Réunion de chantier hebdomadaire",
		Date:             "2025-03-14",
		DurationMinutes:  45,
		ExpectedSpeakers: 2,
		Participants:     []string{"SPEAKER_0", "SPEAKER_1"},
		AIInstructions:   "Focus sur l'avancement du chantier",
	}
}

func TestInferMeetingType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		instructions string
		want         string
	}{
		{"empty", "", "Autre"},
		{"chantier", "réunion de chantier gros œuvre", "Réunion de chantier"},
		{"avancement", "point d'avancement mensuel", "Point d'avancement"},
		{"suivi", "suivi des lots techniques", "Point d'avancement"},
		{"coordination", "coordination des corps d'état", "Réunion de coordination"},
		{"securite", "revue sécurité du site", "Réunion sécurité"},
		{"livraison", "préparation de la livraison", "Réunion de livraison"},
		{"custom", "analyser les échanges commerciaux", "Réunion personnalisée"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, InferMeetingType(tc.instructions))
		})
	}
}

func TestFormatTranscript(t *testing.T) {
	t.Parallel()

	got := formatTranscript(testSegments())
	assert.Contains(t, got, "[00:00] SPEAKER_0: Le coulage de la dalle du niveau 2 est terminé.")
	assert.Contains(t, got, "[00:12] SPEAKER_1: Il reste un problème d'étanchéité au sous-sol.")
	assert.Contains(t, got, "[00:30] SPEAKER_0: On planifie l'intervention pour lundi prochain.")
}

func TestFormatTranscriptSkipsEmptySegments(t *testing.T) {
	t.Parallel()

	segments := []transcription.AlignedSegment{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 5, Text: "   "},
		{Speaker: "SPEAKER_1", StartTime: 65, EndTime: 70, Text: "Bonjour"},
	}
	got := formatTranscript(segments)
	assert.Equal(t, "[01:05] SPEAKER_1: Bonjour", got)
}

func TestValidateAndCleanStripsComments(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"meta": {"projectName": "Test"},
		"sectionsDynamiques": {
			"/* commentaire */": ["ignoré"],
			"problemesIdentifies": ["/* à compléter */", "Fuite au sous-sol", "  "],
			"avancementTravaux": [],
			"decisionsStrategiques": ["Reprise des travaux lundi"]
		},
		"vueChronologique": ["[00:00-05:00] Tour de table"],
		"analysisMetrics": {"totalSegments": 3}
	}`)

	result, err := ValidateAndClean(raw, testMeta(), 3)
	require.NoError(t, err)

	sections, ok := result["sectionsDynamiques"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, sections, "/* commentaire */")
	assert.NotContains(t, sections, "avancementTravaux")
	assert.Equal(t, []any{"Fuite au sous-sol"}, sections["problemesIdentifies"])
	assert.Equal(t, []any{"Reprise des travaux lundi"}, sections["decisionsStrategiques"])
	assert.Equal(t, []any{"[00:00-05:00] Tour de table"}, result["vueChronologique"])
}

func TestValidateAndCleanLegacyFormat(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"decisions": ["Valider le devis électricité"],
		"problemes": ["Retard de livraison des menuiseries"],
		"actions": [
			{"action": "Relancer le fournisseur", "responsable": "Marc", "priorite": "urgente"},
			{"action": "Mettre à jour le planning", "responsable": "Julie", "priorite": "normale"}
		],
		"risques": [
			{"description": "Retard météo", "impact": "Planning"},
			{"risque": "Surcoût matériaux", "impact": "Budget"}
		]
	}`)

	result, err := ValidateAndClean(raw, testMeta(), 3)
	require.NoError(t, err)

	sections, ok := result["sectionsDynamiques"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"Valider le devis électricité"}, sections["decisionsStrategiques"])
	assert.Equal(t, []any{"Retard de livraison des menuiseries"}, sections["problemesIdentifies"])

	urgent, ok := sections["actionsUrgentes"].([]any)
	require.True(t, ok)
	require.Len(t, urgent, 1)
	regular, ok := sections["actionsReguliers"].([]any)
	require.True(t, ok)
	require.Len(t, regular, 1)

	risks, ok := sections["risquesEtMitigations"].([]any)
	require.True(t, ok)
	require.Len(t, risks, 2)
	first, ok := risks[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Retard météo", first["risque"])

	// Legacy responses carry no metrics, defaults are filled in.
	metrics, ok := result["analysisMetrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, metrics["totalSegments"])
}

func TestValidateAndCleanRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := ValidateAndClean([]byte("pas du json"), testMeta(), 0)
	assert.Error(t, err)
}

func TestFallbackAnalysis(t *testing.T) {
	t.Parallel()

	result := Fallback(testSegments(), testMeta(), "quota dépassé")

	sections, ok := result["sectionsDynamiques"].(map[string]any)
	require.True(t, ok)
	points, ok := sections["pointsDivers"].([]any)
	require.True(t, ok)
	assert.Contains(t, points, "[Analyse IA non disponible - Quota dépassé]")
	assert.Contains(t, points, "Réunion de 45 minutes avec 2 intervenant(s)")

	metrics, ok := result["analysisMetrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, metrics["totalSegments"])
	assert.Equal(t, "Basique", metrics["niveauDetaille"])
}

func TestOpenAIClientAnalyze(t *testing.T) {
	settings := &conf.OpenAISettings{
		APIKey:  "test-key",
		Model:   "gpt-4o",
		APIHost: "https://api.openai.test",
		Timeout: 10 * time.Second,
	}
	client := NewOpenAIClient(settings)

	transport := httpmock.NewMockTransport()
	client.SetHTTPClient(&http.Client{Transport: transport})

	analysisJSON := map[string]any{
		"meta": map[string]any{"projectName": "Résidence Les Chênes"},
		"sectionsDynamiques": map[string]any{
			"avancementTravaux":   []string{"Dalle niveau 2 coulée"},
			"problemesIdentifies": []string{"Étanchéité sous-sol à reprendre"},
		},
		"vueChronologique": []string{"[00:00-00:45] Revue d'avancement"},
		"analysisMetrics":  map[string]any{"totalSegments": 3},
	}
	content, err := json.Marshal(analysisJSON)
	require.NoError(t, err)

	response := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": string(content)}},
		},
	}
	transport.RegisterResponder("POST", "https://api.openai.test/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
			var payload map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "gpt-4o", payload["model"])
			assert.InDelta(t, 0.1, payload["temperature"], 0.001)
			return httpmock.NewJsonResponse(200, response)
		})

	result, err := client.Analyze(context.Background(), testSegments(), testMeta())
	require.NoError(t, err)

	sections, ok := result["sectionsDynamiques"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, sections, "avancementTravaux")
	assert.Contains(t, sections, "problemesIdentifies")
}

func TestOpenAIClientAnalyzeFallsBackOnAPIError(t *testing.T) {
	settings := &conf.OpenAISettings{
		APIKey:  "test-key",
		Model:   "gpt-4o",
		APIHost: "https://api.openai.test",
		Timeout: 10 * time.Second,
	}
	client := NewOpenAIClient(settings)

	transport := httpmock.NewMockTransport()
	client.SetHTTPClient(&http.Client{Transport: transport})
	transport.RegisterResponder("POST", "https://api.openai.test/v1/chat/completions",
		httpmock.NewStringResponder(429, `{"error": {"message": "rate limit", "type": "insufficient_quota"}}`))

	result, err := client.Analyze(context.Background(), testSegments(), testMeta())
	require.NoError(t, err)

	metrics, ok := result["analysisMetrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Insuffisant", metrics["qualiteExtraction"])
}

func TestOpenAIClientAnalyzeEmptyTranscript(t *testing.T) {
	client := NewOpenAIClient(&conf.OpenAISettings{Model: "gpt-4o", APIHost: "https://api.openai.test"})

	result, err := client.Analyze(context.Background(), nil, testMeta())
	require.NoError(t, err)

	metrics, ok := result["analysisMetrics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0, metrics["totalSegments"])
}
