package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/datastore"
)

func TestMeetingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")

	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 3)
	assert.Equal(t, datastore.StatusPending, meeting.Status)
	assert.Equal(t, 3, meeting.ExpectedSpeakers)

	// listing under the project
	rec := env.request(http.MethodGet, "/api/v2/projects/"+project.ID+"/meetings", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var meetings []MeetingResponse
	env.decode(rec, &meetings)
	require.Len(t, meetings, 1)

	// single meeting lookup
	rec = env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got MeetingResponse
	env.decode(rec, &got)
	assert.Equal(t, "Réunion de chantier", got.Title)
	assert.NotNil(t, got.ParticipantsDetected)

	// update
	rec = env.request(http.MethodPut, "/api/v2/meetings/"+meeting.ID, token, MeetingRequest{
		Title:            "Réunion de coordination",
		ExpectedSpeakers: 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	env.decode(rec, &got)
	assert.Equal(t, "Réunion de coordination", got.Title)
	assert.Equal(t, 5, got.ExpectedSpeakers)

	// delete
	rec = env.request(http.MethodDelete, "/api/v2/meetings/"+meeting.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMeetingDefaultTitle(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")

	rec := env.request(http.MethodPost, "/api/v2/projects/"+project.ID+"/meetings", token,
		MeetingRequest{ExpectedSpeakers: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	var meeting MeetingResponse
	env.decode(rec, &meeting)
	assert.Regexp(t, `^Réunion du \d{2}/\d{2}/\d{4}$`, meeting.Title)
}

func TestCreateMeetingSpeakerValidation(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")

	for _, speakers := range []int{0, 21, -1} {
		rec := env.request(http.MethodPost, "/api/v2/projects/"+project.ID+"/meetings", token,
			MeetingRequest{ExpectedSpeakers: speakers})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "speakers=%d", speakers)
	}
}

func TestUploadAudio(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	rec := env.uploadAudio(token, meeting.ID, "enregistrement.mp3", bytes.Repeat([]byte{0x42}, 2048))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AudioUploadResponse
	env.decode(rec, &resp)
	assert.Equal(t, "Fichier audio uploadé avec succès", resp.Message)
	assert.Equal(t, "audio.mp3", resp.Filename)
	assert.Positive(t, resp.SizeMB)

	// the meeting now reports its audio file
	rec = env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got MeetingResponse
	env.decode(rec, &got)
	assert.Equal(t, "audio.mp3", got.AudioFile)
}

func TestUploadAudioRejectsFormat(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	rec := env.uploadAudio(token, meeting.ID, "virus.exe", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	env.decode(rec, &errResp)
	assert.Contains(t, errResp.Message, "Format non supporté")
}

func TestUploadAudioTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.settings.Audio.MaxSizeMB = 100 // route body limit fixed at init

	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	env.settings.Audio.MaxSizeMB = 1 // handler-side size check
	rec := env.uploadAudio(token, meeting.ID, "enorme.wav", bytes.Repeat([]byte{0x42}, 2*1024*1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProcessMeeting(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	// no audio yet
	rec := env.request(http.MethodPost, "/api/v2/meetings/"+meeting.ID+"/process", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	env.decode(rec, &errResp)
	assert.Equal(t, "Aucun fichier audio trouvé pour ce meeting", errResp.Message)

	rec = env.uploadAudio(token, meeting.ID, "enregistrement.wav", []byte("not real audio"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(http.MethodPost, "/api/v2/meetings/"+meeting.ID+"/process", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var body map[string]string
	env.decode(rec, &body)
	assert.Equal(t, "Traitement lancé avec succès", body["message"])

	// second launch while the first is pending answers conflict
	rec = env.request(http.MethodPost, "/api/v2/meetings/"+meeting.ID+"/process", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessingStatusDefault(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	rec := env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID+"/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status ProcessingStatusResponse
	env.decode(rec, &status)
	assert.Equal(t, datastore.StageUpload, status.Stage)
	assert.Zero(t, status.Progress)
	assert.Equal(t, "En attente de traitement", status.Message)
	assert.Nil(t, status.EstimatedTimeRemaining)
}

func TestPreviewBeforeAnalysis(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	rec := env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID+"/preview", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	env.decode(rec, &errResp)
	assert.Contains(t, errResp.Message, "Analyse non trouvée")
}

func TestPreviewAfterAnalysis(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	created := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	// simulate a completed pipeline run directly in the store
	meeting, _, err := env.ds.GetUserMeeting(userID(t, env, "jean@chantier.fr"), created.ID)
	require.NoError(t, err)

	analysis := map[string]any{
		"meta": map[string]any{"titreReunion": "Réunion de chantier"},
		"sectionsDynamiques": map[string]any{
			"etatLieux": []any{"Gros oeuvre terminé"},
		},
	}
	analysisJSON, err := json.Marshal(analysis)
	require.NoError(t, err)
	meeting.AnalysisJSON = string(analysisJSON)
	meeting.Duration = 1800
	require.NoError(t, env.ds.UpdateMeeting(&meeting))
	require.NoError(t, env.ds.ReplaceTranscript(meeting.ID, []datastore.TranscriptSegment{
		{MeetingID: meeting.ID, Position: 0, Speaker: "SPEAKER_0", StartTime: 0, EndTime: 10, Text: "Bonjour à tous"},
		{MeetingID: meeting.ID, Position: 1, Speaker: "SPEAKER_1", StartTime: 10, EndTime: 20, Text: "Le planning est tenu"},
	}))

	rec := env.request(http.MethodGet, "/api/v2/meetings/"+created.ID+"/preview", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var preview MeetingPreview
	env.decode(rec, &preview)
	assert.Contains(t, preview.ReportHTML, "Réunion de chantier")
	assert.Contains(t, preview.ReportHTML, "Gros oeuvre terminé")
	assert.InDelta(t, 2, preview.Stats["total_segments"], 0.01)
	require.Len(t, preview.Transcript, 2)
	assert.ElementsMatch(t, []string{"SPEAKER_0", "SPEAKER_1"}, preview.Participants)
	assert.InDelta(t, 1800, preview.Duration, 0.01)
}

func TestReportDownloadMissing(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register("jean@chantier.fr")
	project := env.createProject(token, "Tour Horizon")
	meeting := env.createMeeting(token, project.ID, "Réunion de chantier", 2)

	rec := env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID+"/report.docx", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(http.MethodGet, "/api/v2/meetings/"+meeting.ID+"/report.txt", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMeetingOwnershipHidden(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.register("owner@chantier.fr")
	otherToken, _ := env.register("other@chantier.fr")
	project := env.createProject(ownerToken, "Tour Horizon")
	meeting := env.createMeeting(ownerToken, project.ID, "Réunion de chantier", 2)

	for _, route := range []string{
		"/api/v2/meetings/" + meeting.ID,
		"/api/v2/meetings/" + meeting.ID + "/status",
		"/api/v2/meetings/" + meeting.ID + "/preview",
		"/api/v2/meetings/" + meeting.ID + "/report.docx",
	} {
		rec := env.request(http.MethodGet, route, otherToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, route)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Réunion de chantier", "Réunion de chantier"},
		{"Point n°4: façade / toiture", "Point n4 façade  toiture"},
		{"///", "rapport"},
		{"", "rapport"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}

// userID resolves the internal ID of a registered test account.
func userID(t *testing.T, env *testEnv, email string) uint {
	t.Helper()
	user, err := env.ds.GetUserByEmail(email)
	require.NoError(t, err)
	return user.ID
}
