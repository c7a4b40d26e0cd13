// internal/api/v2/meetings.go meeting CRUD, audio upload and pipeline control
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/jobqueue"
	"github.com/cybeform/cybemeeting/internal/pipeline"
	"github.com/cybeform/cybemeeting/internal/securefs"
)

// MeetingResponse is the public view of a meeting.
type MeetingResponse struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Date                 time.Time `json:"date"`
	ExpectedSpeakers     int       `json:"expected_speakers"`
	AIInstructions       string    `json:"ai_instructions,omitempty"`
	Status               string    `json:"status"`
	Stage                string    `json:"stage,omitempty"`
	Progress             int       `json:"progress"`
	Duration             float64   `json:"duration,omitempty"`
	ParticipantsDetected []string  `json:"participants_detected"`
	AudioFile            string    `json:"audio_file,omitempty"`
	ReportFile           string    `json:"report_file,omitempty"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// MeetingRequest is the create and update payload.
type MeetingRequest struct {
	Title            string     `json:"title"`
	Date             *time.Time `json:"date"`
	ExpectedSpeakers int        `json:"expected_speakers"`
	AIInstructions   string     `json:"ai_instructions"`
}

// ProcessRequest optionally overrides the expected speaker count.
type ProcessRequest struct {
	ExpectedSpeakers *int `json:"expected_speakers"`
}

// ProcessingStatusResponse is the payload polled by the frontend.
type ProcessingStatusResponse struct {
	Stage                  string `json:"stage"`
	Progress               int    `json:"progress"`
	Message                string `json:"message"`
	EstimatedTimeRemaining *int   `json:"estimated_time_remaining,omitempty"`
}

// AudioUploadResponse acknowledges an audio upload.
type AudioUploadResponse struct {
	Message  string  `json:"message"`
	Filename string  `json:"filename"`
	SizeMB   float64 `json:"size_mb"`
	Duration float64 `json:"duration,omitempty"`
}

// TranscriptSegmentResponse is one transcript span in the preview.
type TranscriptSegmentResponse struct {
	Speaker   string  `json:"speaker"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
}

// MeetingPreview is the report preview shown before download.
type MeetingPreview struct {
	ReportHTML   string                      `json:"report_html"`
	Stats        map[string]any              `json:"stats"`
	Participants []string                    `json:"participants"`
	Duration     float64                     `json:"duration"`
	Transcript   []TranscriptSegmentResponse `json:"transcript"`
}

func meetingResponse(meeting *datastore.Meeting, participants []string) MeetingResponse {
	if participants == nil {
		participants = []string{}
	}
	return MeetingResponse{
		ID:                   meeting.PublicID,
		Title:                meeting.Title,
		Date:                 meeting.Date,
		ExpectedSpeakers:     meeting.ExpectedSpeakers,
		AIInstructions:       meeting.AIInstructions,
		Status:               meeting.Status,
		Stage:                meeting.Stage,
		Progress:             meeting.Progress,
		Duration:             meeting.Duration,
		ParticipantsDetected: participants,
		AudioFile:            meeting.AudioFile,
		ReportFile:           meeting.ReportFile,
		ErrorMessage:         meeting.ErrorMessage,
		CreatedAt:            meeting.CreatedAt,
	}
}

// ListProjectMeetings returns the meetings of a project, newest first.
func (c *Controller) ListProjectMeetings(ctx echo.Context) error {
	user := currentUser(ctx)

	project, err := c.DS.GetProject(user.ID, ctx.Param("id"))
	if err != nil {
		return c.projectNotFound(ctx, err)
	}

	meetings, err := c.DS.GetProjectMeetings(project.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la récupération des meetings", http.StatusInternalServerError)
	}

	responses := make([]MeetingResponse, 0, len(meetings))
	for i := range meetings {
		responses = append(responses, meetingResponse(&meetings[i], nil))
	}
	return ctx.JSON(http.StatusOK, responses)
}

// CreateMeeting creates a meeting in a project. The title defaults to
// "Réunion du DD/MM/YYYY" when omitted.
func (c *Controller) CreateMeeting(ctx echo.Context) error {
	user := currentUser(ctx)

	project, err := c.DS.GetProject(user.ID, ctx.Param("id"))
	if err != nil {
		return c.projectNotFound(ctx, err)
	}

	var req MeetingRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Requête invalide", http.StatusBadRequest)
	}
	if req.ExpectedSpeakers < 1 || req.ExpectedSpeakers > 20 {
		return c.HandleError(ctx, nil,
			"Le nombre d'intervenants doit être compris entre 1 et 20", http.StatusBadRequest)
	}

	now := time.Now()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Réunion du " + now.Format("02/01/2006")
	}
	date := now
	if req.Date != nil {
		date = *req.Date
	}

	meeting := datastore.Meeting{
		PublicID:         uuid.New().String(),
		ProjectID:        project.ID,
		Title:            title,
		Date:             date,
		ExpectedSpeakers: req.ExpectedSpeakers,
		AIInstructions:   strings.TrimSpace(req.AIInstructions),
		Status:           datastore.StatusPending,
	}
	if err := c.DS.CreateMeeting(&meeting); err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la création du meeting", http.StatusInternalServerError)
	}

	dir := securefs.MeetingDir(user.PublicID, project.PublicID, meeting.PublicID)
	if err := c.SFS.MkdirAll(dir); err != nil {
		c.apiLogger.Warn("meeting directory creation failed", "meeting_id", meeting.PublicID, "error", err)
	}

	c.projectCache.Delete(projectCacheKey(user.ID))
	return ctx.JSON(http.StatusCreated, meetingResponse(&meeting, nil))
}

// GetMeeting returns one meeting by public ID.
func (c *Controller) GetMeeting(ctx echo.Context) error {
	meeting, _, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	speakers, err := c.DS.GetSpeakers(meeting.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la récupération du meeting", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, meetingResponse(&meeting, speakers))
}

// UpdateMeeting modifies the editable fields of a meeting.
func (c *Controller) UpdateMeeting(ctx echo.Context) error {
	meeting, _, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	var req MeetingRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Requête invalide", http.StatusBadRequest)
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		meeting.Title = title
	}
	if req.Date != nil {
		meeting.Date = *req.Date
	}
	if req.ExpectedSpeakers != 0 {
		if req.ExpectedSpeakers < 1 || req.ExpectedSpeakers > 20 {
			return c.HandleError(ctx, nil,
				"Le nombre d'intervenants doit être compris entre 1 et 20", http.StatusBadRequest)
		}
		meeting.ExpectedSpeakers = req.ExpectedSpeakers
	}
	meeting.AIInstructions = strings.TrimSpace(req.AIInstructions)

	if err := c.DS.UpdateMeeting(&meeting); err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la modification du meeting", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, meetingResponse(&meeting, nil))
}

// DeleteMeeting removes a meeting, its transcript and all stored files.
func (c *Controller) DeleteMeeting(ctx echo.Context) error {
	user := currentUser(ctx)

	meeting, project, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	if err := c.DS.DeleteMeeting(project.ID, meeting.PublicID); err != nil {
		return c.meetingNotFound(ctx, err)
	}

	dir := securefs.MeetingDir(user.PublicID, project.PublicID, meeting.PublicID)
	if err := c.SFS.RemoveAll(dir); err != nil {
		c.apiLogger.Warn("meeting directory removal failed", "meeting_id", meeting.PublicID, "error", err)
	}

	c.projectCache.Delete(projectCacheKey(user.ID))
	return ctx.JSON(http.StatusOK, map[string]string{"message": "Meeting supprimé avec succès"})
}

// UploadAudio stores the recording of a meeting. The file is saved as
// audio.<ext> in the meeting directory, replacing any previous upload.
func (c *Controller) UploadAudio(ctx echo.Context) error {
	user := currentUser(ctx)

	meeting, project, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, err, "Fichier audio manquant", http.StatusBadRequest)
	}
	if fileHeader.Filename == "" {
		return c.HandleError(ctx, nil, "Nom de fichier manquant", http.StatusBadRequest)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileHeader.Filename), "."))
	if !c.formatAllowed(ext) {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("Format non supporté. Formats autorisés: %s",
				strings.Join(c.Settings.Audio.AllowedFormats, ", ")),
			http.StatusBadRequest)
	}

	maxBytes := int64(c.Settings.Audio.MaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return c.HandleError(ctx, nil,
			fmt.Sprintf("Fichier trop volumineux. Taille max: %dMB", c.Settings.Audio.MaxSizeMB),
			http.StatusRequestEntityTooLarge)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de l'upload", http.StatusInternalServerError)
	}
	defer src.Close()

	var reader io.Reader = src
	if maxBytes > 0 {
		reader = io.LimitReader(src, maxBytes+1)
	}
	dir := securefs.MeetingDir(user.PublicID, project.PublicID, meeting.PublicID)
	filename := "audio." + ext
	written, err := c.SFS.SaveStream(path.Join(dir, filename), reader)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de l'upload", http.StatusInternalServerError)
	}

	// A previous upload in another format would otherwise linger
	if meeting.AudioFile != "" && meeting.AudioFile != filename {
		_ = c.SFS.Remove(path.Join(dir, meeting.AudioFile))
	}

	var duration float64
	if abs, err := c.SFS.AbsolutePath(path.Join(dir, filename)); err == nil {
		if info, err := c.Pipeline.Audio.Probe(ctx.Request().Context(), abs); err == nil {
			duration = info.Duration
		}
	}

	meeting.AudioFile = filename
	meeting.AudioFormat = ext
	meeting.Duration = duration
	if err := c.DS.UpdateMeeting(&meeting); err != nil {
		return c.HandleError(ctx, err, "Erreur lors de l'upload", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, AudioUploadResponse{
		Message:  "Fichier audio uploadé avec succès",
		Filename: filename,
		SizeMB:   math.Round(float64(written)/(1024*1024)*100) / 100,
		Duration: duration,
	})
}

// ProcessMeeting enqueues the analysis pipeline for a meeting.
func (c *Controller) ProcessMeeting(ctx echo.Context) error {
	user := currentUser(ctx)

	meeting, project, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	if meeting.Status == datastore.StatusProcessing {
		return c.HandleError(ctx, nil,
			"Un traitement est déjà en cours pour ce meeting", http.StatusConflict)
	}
	if meeting.AudioFile == "" {
		return c.HandleError(ctx, nil,
			"Aucun fichier audio trouvé pour ce meeting", http.StatusBadRequest)
	}

	var req ProcessRequest
	// the body is optional, a bare POST keeps the stored speaker count
	_ = ctx.Bind(&req)
	if req.ExpectedSpeakers != nil {
		if *req.ExpectedSpeakers < 1 || *req.ExpectedSpeakers > 20 {
			return c.HandleError(ctx, nil,
				"Le nombre d'intervenants doit être compris entre 1 et 20", http.StatusBadRequest)
		}
		meeting.ExpectedSpeakers = *req.ExpectedSpeakers
		if err := c.DS.UpdateMeeting(&meeting); err != nil {
			return c.HandleError(ctx, err, "Erreur lors du lancement du traitement", http.StatusInternalServerError)
		}
	}

	if err := c.DS.UpdateProcessingState(meeting.ID, datastore.StatusProcessing,
		datastore.StageUpload, 0, "Traitement en file d'attente", nil); err != nil {
		return c.HandleError(ctx, err, "Erreur lors du lancement du traitement", http.StatusInternalServerError)
	}

	request := pipeline.Request{
		MeetingID:       meeting.ID,
		UserPublicID:    user.PublicID,
		ProjectPublicID: project.PublicID,
		MeetingPublicID: meeting.PublicID,
		ProjectName:     project.Name,
	}
	retryConfig := jobqueue.RetryConfigFromSettings(&c.Settings.Processing)
	if _, err := c.Queue.Enqueue(pipeline.NewAction(c.Pipeline, request), nil, retryConfig); err != nil {
		_ = c.DS.SetMeetingError(meeting.ID, "Erreur: le traitement n'a pas pu être lancé")
		if errors.Is(err, jobqueue.ErrQueueFull) {
			return c.HandleError(ctx, err,
				"File de traitement pleine, réessayez plus tard", http.StatusServiceUnavailable)
		}
		return c.HandleError(ctx, err, "Erreur lors du lancement du traitement", http.StatusInternalServerError)
	}

	if c.metrics != nil && c.metrics.Pipeline != nil {
		c.metrics.Pipeline.SetQueueDepth(c.Queue.GetStats().PendingJobs)
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{"message": "Traitement lancé avec succès"})
}

// GetProcessingStatus returns the pipeline progress of a meeting. The
// frontend polls this every two seconds during processing.
func (c *Controller) GetProcessingStatus(ctx echo.Context) error {
	meeting, _, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	status := ProcessingStatusResponse{
		Stage:                  meeting.Stage,
		Progress:               meeting.Progress,
		Message:                meeting.Message,
		EstimatedTimeRemaining: meeting.ETASeconds,
	}
	if status.Stage == "" {
		status.Stage = datastore.StageUpload
		status.Message = "En attente de traitement"
	}
	return ctx.JSON(http.StatusOK, status)
}

// GetMeetingPreview returns the HTML report preview, statistics and full
// transcript of a processed meeting.
func (c *Controller) GetMeetingPreview(ctx echo.Context) error {
	meeting, _, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	if meeting.AnalysisJSON == "" {
		return c.HandleError(ctx, nil,
			"Analyse non trouvée - le traitement n'est peut-être pas terminé", http.StatusNotFound)
	}

	var analysisData map[string]any
	if err := json.Unmarshal([]byte(meeting.AnalysisJSON), &analysisData); err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la génération de l'aperçu", http.StatusInternalServerError)
	}

	reportHTML, err := c.reports.HTMLPreview(analysisData)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la génération de l'aperçu", http.StatusInternalServerError)
	}

	segments, err := c.DS.GetTranscript(meeting.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la génération de l'aperçu", http.StatusInternalServerError)
	}
	transcript := make([]TranscriptSegmentResponse, 0, len(segments))
	totalWords := 0
	for _, seg := range segments {
		totalWords += len(strings.Fields(seg.Text))
		transcript = append(transcript, TranscriptSegmentResponse{
			Speaker:   seg.Speaker,
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Text:      seg.Text,
		})
	}

	speakers, err := c.DS.GetSpeakers(meeting.ID)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors de la génération de l'aperçu", http.StatusInternalServerError)
	}
	if speakers == nil {
		speakers = []string{}
	}

	return ctx.JSON(http.StatusOK, MeetingPreview{
		ReportHTML: reportHTML,
		Stats: map[string]any{
			"total_segments":   len(segments),
			"total_words":      totalWords,
			"processing_date":  meeting.UpdatedAt.Format(time.RFC3339),
			"analysis_version": "1.0",
		},
		Participants: speakers,
		Duration:     meeting.Duration,
		Transcript:   transcript,
	})
}

// DownloadReport serves the generated DOCX as an attachment named after
// the meeting title.
func (c *Controller) DownloadReport(ctx echo.Context) error {
	user := currentUser(ctx)

	meeting, project, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	dir := securefs.MeetingDir(user.PublicID, project.PublicID, meeting.PublicID)
	if meeting.ReportFile == "" || !c.SFS.Exists(path.Join(dir, meeting.ReportFile)) {
		return c.HandleError(ctx, nil, "Rapport non trouvé", http.StatusNotFound)
	}

	abs, err := c.SFS.AbsolutePath(path.Join(dir, meeting.ReportFile))
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors du téléchargement", http.StatusInternalServerError)
	}

	ctx.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response().Header().Set("X-Content-Type-Options", "nosniff")
	return ctx.Attachment(abs, sanitizeFilename(meeting.Title)+".docx")
}

// DownloadReportText serves a plain text rendition of the report.
func (c *Controller) DownloadReportText(ctx echo.Context) error {
	meeting, _, err := c.userMeeting(ctx)
	if err != nil {
		return c.meetingNotFound(ctx, err)
	}

	if meeting.AnalysisJSON == "" {
		return c.HandleError(ctx, nil, "Rapport non trouvé", http.StatusNotFound)
	}

	var analysisData map[string]any
	if err := json.Unmarshal([]byte(meeting.AnalysisJSON), &analysisData); err != nil {
		return c.HandleError(ctx, err, "Erreur lors du téléchargement", http.StatusInternalServerError)
	}

	text, err := c.reports.TextPreview(analysisData)
	if err != nil {
		return c.HandleError(ctx, err, "Erreur lors du téléchargement", http.StatusInternalServerError)
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s.txt"`, sanitizeFilename(meeting.Title)))
	return ctx.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// userMeeting resolves the :id route parameter to a meeting and its
// project, scoped to the authenticated user.
func (c *Controller) userMeeting(ctx echo.Context) (datastore.Meeting, datastore.Project, error) {
	user := currentUser(ctx)
	return c.DS.GetUserMeeting(user.ID, ctx.Param("id"))
}

// meetingNotFound maps datastore errors on meeting lookups. Meetings owned
// by other users answer 404, their existence must not leak.
func (c *Controller) meetingNotFound(ctx echo.Context, err error) error {
	if errors.Is(err, datastore.ErrNotFound) {
		return c.HandleError(ctx, nil, "Meeting non trouvé", http.StatusNotFound)
	}
	return c.HandleError(ctx, err, "Erreur lors de l'accès au meeting", http.StatusInternalServerError)
}

// formatAllowed reports whether the upload extension is accepted.
func (c *Controller) formatAllowed(ext string) bool {
	for _, allowed := range c.Settings.Audio.AllowedFormats {
		if strings.EqualFold(strings.TrimPrefix(allowed, "."), ext) {
			return true
		}
	}
	return false
}

// sanitizeFilename keeps letters, digits, spaces, dashes and underscores
// from a meeting title for use in a Content-Disposition header.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		return "rapport"
	}
	return name
}
