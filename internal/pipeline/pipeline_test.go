package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cybeform/cybemeeting/internal/analysis"
	"github.com/cybeform/cybemeeting/internal/audio"
	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/diarization"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/mqtt"
	"github.com/cybeform/cybemeeting/internal/report"
	"github.com/cybeform/cybemeeting/internal/securefs"
	"github.com/cybeform/cybemeeting/internal/transcription"
)

// TestMain verifies that pipeline runs do not leak goroutines.
func TestMain(m *testing.M) {
	logging.Init()
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("runtime.gopark"),
	)
}

type stubDiarizer struct {
	result diarization.Result
	err    error
}

func (d *stubDiarizer) Diarize(_ context.Context, _ string, _ int) (diarization.Result, error) {
	return d.result, d.err
}

type stubTranscriber struct {
	result transcription.Result
	err    error
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string) (transcription.Result, error) {
	return s.result, s.err
}

type stubAnalyzer struct {
	mu     sync.Mutex
	meta   analysis.Metadata
	result map[string]any
	err    error
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ []transcription.AlignedSegment, meta analysis.Metadata) (map[string]any, error) {
	a.mu.Lock()
	a.meta = meta
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mqtt.Event
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event mqtt.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type fixture struct {
	processor *Processor
	ds        *datastore.SQLiteStore
	publisher *recordingPublisher
	request   Request
	meeting   *datastore.Meeting
	dir       string
}

// writeWav writes a mono 8 kHz WAV file with the given number of seconds
// of silence.
func writeWav(t *testing.T, path string, seconds int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	encoder := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, seconds*8000),
		SourceBitDepth: 16,
	}
	require.NoError(t, encoder.Write(buf))
	require.NoError(t, encoder.Close())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&datastore.User{}, &datastore.Project{},
		&datastore.Meeting{}, &datastore.TranscriptSegment{}))
	ds := &datastore.SQLiteStore{DataStore: datastore.DataStore{DB: db}}
	t.Cleanup(func() { _ = ds.Close() })

	user := &datastore.User{
		PublicID:     uuid.New().String(),
		Email:        "chef@exemple.fr",
		PasswordHash: "hashed",
		IsActive:     true,
	}
	require.NoError(t, ds.CreateUser(user))

	project := &datastore.Project{
		PublicID: uuid.New().String(),
		UserID:   user.ID,
		Name:     "Tour Horizon",
	}
	require.NoError(t, ds.CreateProject(project))

	meeting := &datastore.Meeting{
		PublicID:         uuid.New().String(),
		ProjectID:        project.ID,
		Title:            "Réunion de chantier",
		Date:             time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		ExpectedSpeakers: 2,
		AudioFile:        "audio.wav",
		AudioFormat:      "wav",
		Duration:         120,
		Status:           datastore.StatusPending,
	}
	require.NoError(t, ds.CreateMeeting(meeting))

	fs, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	dir := securefs.MeetingDir(user.PublicID, project.PublicID, meeting.PublicID)
	require.NoError(t, fs.MkdirAll(dir))
	audioAbs, err := fs.AbsolutePath(path.Join(dir, "audio.wav"))
	require.NoError(t, err)
	writeWav(t, audioAbs, 120)

	settings := &conf.Settings{}
	settings.Diarization.MinSegment = 0.5
	settings.Audio.MaxSizeMB = 500
	settings.Audio.AllowedFormats = []string{".mp3", ".wav", ".m4a"}
	settings.Audio.MaxDuration = 120
	settings.Audio.FfmpegPath = "/nonexistent/ffmpeg"
	settings.Audio.FfprobePath = "/nonexistent/ffprobe"

	diarized := diarization.Result{
		Turns: []diarization.Turn{
			{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 60, Duration: 60},
			{Speaker: "SPEAKER_1", StartTime: 60, EndTime: 120, Duration: 60},
		},
		Service: "pyannote",
	}
	transcribed := transcription.Result{
		Text:     "Bonjour à tous. Le gros oeuvre avance bien.",
		Language: "fr",
		Segments: []transcription.Segment{
			{StartTime: 0, EndTime: 55, Text: "Bonjour à tous."},
			{StartTime: 61, EndTime: 115, Text: "Le gros oeuvre avance bien."},
		},
		Service: "whisper",
	}

	publisher := &recordingPublisher{}
	processor := &Processor{
		Settings:    settings,
		DS:          ds,
		FS:          fs,
		Audio:       audio.NewProcessor(&settings.Audio),
		Diarizer:    &stubDiarizer{result: diarized},
		Transcriber: &stubTranscriber{result: transcribed},
		Analyzer: &stubAnalyzer{result: map[string]any{
			"meta": map[string]any{"titreReunion": "Réunion de chantier"},
			"sectionsDynamiques": map[string]any{
				"etatLieux": []any{"Gros oeuvre avancé à 60%"},
			},
		}},
		Reports:   report.NewGenerator(),
		Publisher: publisher,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	return &fixture{
		processor: processor,
		ds:        ds,
		publisher: publisher,
		request: Request{
			MeetingID:       meeting.ID,
			UserPublicID:    user.PublicID,
			ProjectPublicID: project.PublicID,
			MeetingPublicID: meeting.PublicID,
			ProjectName:     project.Name,
		},
		meeting: meeting,
		dir:     dir,
	}
}

func TestRunCompletes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.processor.Run(context.Background(), f.request))

	meeting, err := f.ds.GetMeetingByID(f.meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusCompleted, meeting.Status)
	assert.Equal(t, datastore.StageDone, meeting.Stage)
	assert.Equal(t, 100, meeting.Progress)
	assert.Equal(t, "Traitement terminé avec succès", meeting.Message)
	assert.Nil(t, meeting.ETASeconds)
	assert.Equal(t, ReportFilename, meeting.ReportFile)
	assert.Contains(t, meeting.AnalysisJSON, "etatLieux")

	segments, err := f.ds.GetTranscript(f.meeting.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 0, segments[0].Position)
	assert.Equal(t, "SPEAKER_0", segments[0].Speaker)
	assert.Equal(t, "Bonjour à tous.", segments[0].Text)
	assert.Equal(t, "SPEAKER_1", segments[1].Speaker)

	reportData, err := f.processor.FS.ReadFile(path.Join(f.dir, ReportFilename))
	require.NoError(t, err)
	assert.Equal(t, "PK", string(reportData[:2]), "report should be a zip archive")

	assert.Equal(t, []string{mqtt.EventProcessingStarted, mqtt.EventCompleted},
		f.publisher.eventTypes())
}

func TestRunPassesMeetingContextToAnalyzer(t *testing.T) {
	f := newFixture(t)
	analyzer := f.processor.Analyzer.(*stubAnalyzer)

	require.NoError(t, f.processor.Run(context.Background(), f.request))

	analyzer.mu.Lock()
	meta := analyzer.meta
	analyzer.mu.Unlock()
	assert.Equal(t, "Tour Horizon", meta.ProjectName)
	assert.Equal(t, "Réunion de chantier", meta.Title)
	assert.Equal(t, "2025-03-14", meta.Date)
	assert.Equal(t, 2, meta.DurationMinutes)
	assert.Equal(t, []string{"SPEAKER_0", "SPEAKER_1"}, meta.Participants)
}

func TestRunDiarizationFallback(t *testing.T) {
	f := newFixture(t)
	f.processor.Diarizer = &stubDiarizer{err: context.DeadlineExceeded}

	require.NoError(t, f.processor.Run(context.Background(), f.request))

	meeting, err := f.ds.GetMeetingByID(f.meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusCompleted, meeting.Status)

	speakers, err := f.ds.GetSpeakers(f.meeting.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, speakers, "fallback diarization should still produce speakers")
}

func TestRunTranscriptionFallback(t *testing.T) {
	f := newFixture(t)
	f.processor.Transcriber = &stubTranscriber{err: context.DeadlineExceeded}

	require.NoError(t, f.processor.Run(context.Background(), f.request))

	segments, err := f.ds.GetTranscript(f.meeting.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, segments, "placeholder transcript should be persisted")
}

func TestRunAnalyzerFailureMarksMeetingFailed(t *testing.T) {
	f := newFixture(t)
	f.processor.Analyzer = &stubAnalyzer{err: context.DeadlineExceeded}

	err := f.processor.Run(context.Background(), f.request)
	require.Error(t, err)

	meeting, dbErr := f.ds.GetMeetingByID(f.meeting.ID)
	require.NoError(t, dbErr)
	assert.Equal(t, datastore.StatusError, meeting.Status)
	assert.Equal(t, datastore.StageError, meeting.Stage)
	assert.True(t, strings.HasPrefix(meeting.ErrorMessage, "Erreur:"),
		"error message should carry the French prefix, got %q", meeting.ErrorMessage)

	types := f.publisher.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, mqtt.EventFailed, types[len(types)-1])
}

func TestRunWithoutAudioFails(t *testing.T) {
	f := newFixture(t)
	f.meeting.AudioFile = ""
	require.NoError(t, f.ds.UpdateMeeting(f.meeting))

	err := f.processor.Run(context.Background(), f.request)
	require.Error(t, err)

	meeting, dbErr := f.ds.GetMeetingByID(f.meeting.ID)
	require.NoError(t, dbErr)
	assert.Equal(t, datastore.StatusError, meeting.Status)
}

func TestRunRejectsTooLongAudio(t *testing.T) {
	f := newFixture(t)
	// the staged recording is 2 minutes long
	f.processor.Settings.Audio.MaxDuration = 1

	err := f.processor.Run(context.Background(), f.request)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Fichier trop long")

	meeting, dbErr := f.ds.GetMeetingByID(f.meeting.ID)
	require.NoError(t, dbErr)
	assert.Equal(t, datastore.StatusError, meeting.Status)
	assert.Equal(t, datastore.StageError, meeting.Stage)
	assert.Contains(t, meeting.ErrorMessage, "Fichier trop long")
	types := f.publisher.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, mqtt.EventFailed, types[len(types)-1])
}

func TestRunUnknownMeeting(t *testing.T) {
	f := newFixture(t)
	f.request.MeetingID = 9999

	err := f.processor.Run(context.Background(), f.request)
	require.Error(t, err)
}

func TestEtaSeconds(t *testing.T) {
	tests := []struct {
		stage    string
		progress int
		want     *int
	}{
		{datastore.StageUpload, 5, intPtr(28)},
		{datastore.StageDiarization, 20, intPtr(48)},
		{datastore.StageTranscription, 50, intPtr(45)},
		{datastore.StageReport, 90, intPtr(3)},
		{datastore.StageDone, 100, nil},
	}
	for _, tt := range tests {
		got := etaSeconds(tt.stage, tt.progress)
		if tt.want == nil {
			assert.Nil(t, got, "stage %s", tt.stage)
			continue
		}
		require.NotNil(t, got, "stage %s", tt.stage)
		assert.Equal(t, *tt.want, *got, "stage %s at %d%%", tt.stage, tt.progress)
	}
}

func intPtr(v int) *int { return &v }

func TestActionDescription(t *testing.T) {
	f := newFixture(t)
	action := NewAction(f.processor, f.request)
	assert.Contains(t, action.Description(), f.request.MeetingPublicID)
	assert.Contains(t, action.Description(), "process-meeting")
}
