// Package pipeline orchestrates the processing of one meeting recording:
// audio normalization, speaker diarization, transcription, alignment,
// structured analysis and report generation. Progress is written to the
// meeting's processing state after every step so that polling clients can
// render a live progress bar.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cybeform/cybemeeting/internal/analysis"
	"github.com/cybeform/cybemeeting/internal/audio"
	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/diarization"
	"github.com/cybeform/cybemeeting/internal/errors"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/mqtt"
	"github.com/cybeform/cybemeeting/internal/observability/metrics"
	"github.com/cybeform/cybemeeting/internal/remotestore"
	"github.com/cybeform/cybemeeting/internal/report"
	"github.com/cybeform/cybemeeting/internal/securefs"
	"github.com/cybeform/cybemeeting/internal/transcription"
)

// ReportFilename is the name of the generated DOCX inside the meeting
// directory.
const ReportFilename = "report.docx"

// normalizedFilename is the converted working copy written next to the
// uploaded audio.
const normalizedFilename = "audio_normalized.wav"

// stageEstimates holds the expected remaining duration of each stage in
// seconds, used to derive the ETA shown to polling clients.
var stageEstimates = map[string]int{
	datastore.StageUpload:        30,
	datastore.StageDiarization:   60,
	datastore.StageTranscription: 90,
	datastore.StageReport:        30,
}

// Request identifies one meeting run. The caller resolves the public
// identifiers so the pipeline can locate the meeting directory without
// extra lookups.
type Request struct {
	MeetingID       uint
	UserPublicID    string
	ProjectPublicID string
	MeetingPublicID string
	ProjectName     string
}

// Processor runs the full analysis pipeline for one meeting. The service
// fields are exported so tests and the CLI can substitute stubs; New wires
// the production implementations from settings.
type Processor struct {
	Settings    *conf.Settings
	DS          datastore.Interface
	FS          *securefs.SecureFS
	Audio       *audio.Processor
	Diarizer    diarization.Diarizer
	Transcriber transcription.Service
	Analyzer    analysis.Analyzer
	Reports     *report.Generator
	Publisher   mqtt.Publisher
	Remote      remotestore.Target
	Metrics     *metrics.PipelineMetrics

	logger *slog.Logger
}

// New creates a processor with the production services selected from
// settings. MQTT, remote storage and metrics stay nil unless set by the
// caller.
func New(settings *conf.Settings, ds datastore.Interface, fs *securefs.SecureFS) *Processor {
	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default().With("service", "pipeline")
	}

	processor := audio.NewProcessor(&settings.Audio)

	var diarizer diarization.Diarizer
	if settings.Diarization.Provider == "pyannote" && settings.Diarization.Endpoint != "" {
		diarizer = diarization.NewPyannoteClient(&settings.Diarization)
	} else {
		diarizer = &diarization.FallbackDiarizer{
			DurationFn: func(ctx context.Context, audioPath string) (float64, error) {
				info, err := processor.Probe(ctx, audioPath)
				return info.Duration, err
			},
		}
	}

	return &Processor{
		Settings:    settings,
		DS:          ds,
		FS:          fs,
		Audio:       processor,
		Diarizer:    diarizer,
		Transcriber: transcription.NewOpenAIClient(&settings.OpenAI, processor),
		Analyzer:    analysis.NewOpenAIClient(&settings.OpenAI),
		Reports:     report.NewGenerator(),
		logger:      logger,
	}
}

// Run executes the pipeline for one meeting. A non-nil error marks the
// meeting as failed and makes the job eligible for retry.
func (p *Processor) Run(ctx context.Context, req Request) error {
	if p.Metrics != nil {
		p.Metrics.RunStarted()
		defer p.Metrics.RunFinished()
	}

	meeting, err := p.DS.GetMeetingByID(req.MeetingID)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			MeetingContext(req.MeetingID, datastore.StageUpload).
			Build()
	}
	if meeting.AudioFile == "" {
		err := errors.Newf("meeting %s has no audio file", req.MeetingPublicID).
			Category(errors.CategoryValidation).
			MeetingContext(req.MeetingID, datastore.StageUpload).
			Build()
		p.fail(ctx, req, &meeting, err)
		return err
	}

	p.logger.Info("pipeline run started",
		"meeting_id", req.MeetingPublicID,
		"project_id", req.ProjectPublicID,
		"audio_file", meeting.AudioFile)

	p.publish(ctx, mqtt.Event{
		Type:      mqtt.EventProcessingStarted,
		MeetingID: req.MeetingPublicID,
		ProjectID: req.ProjectPublicID,
		Title:     meeting.Title,
		Message:   "Traitement démarré",
		Timestamp: time.Now(),
	})

	if err := p.process(ctx, req, &meeting); err != nil {
		p.fail(ctx, req, &meeting, err)
		return err
	}

	if p.Metrics != nil {
		p.Metrics.RecordRun("success")
	}
	p.publish(ctx, mqtt.Event{
		Type:      mqtt.EventCompleted,
		MeetingID: req.MeetingPublicID,
		ProjectID: req.ProjectPublicID,
		Title:     meeting.Title,
		Message:   "Traitement terminé avec succès",
		Timestamp: time.Now(),
	})
	return nil
}

func (p *Processor) process(ctx context.Context, req Request, meeting *datastore.Meeting) error {
	dir := securefs.MeetingDir(req.UserPublicID, req.ProjectPublicID, req.MeetingPublicID)

	p.update(req.MeetingID, datastore.StageUpload, 5, "Initialisation du traitement...")

	audioPath, err := p.FS.AbsolutePath(path.Join(dir, meeting.AudioFile))
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			MeetingContext(req.MeetingID, datastore.StageUpload).
			Build()
	}

	if err := p.Audio.Validate(ctx, audioPath); err != nil {
		return errors.New(err).
			MeetingContext(req.MeetingID, datastore.StageUpload).
			Build()
	}

	p.update(req.MeetingID, datastore.StageUpload, 10, "Normalisation de l'audio...")
	workPath := p.normalize(ctx, dir, audioPath)

	duration := meeting.Duration
	if info, err := p.Audio.Probe(ctx, workPath); err == nil && info.Duration > 0 {
		duration = info.Duration
	}
	if p.Metrics != nil && duration > 0 {
		p.Metrics.RecordAudioDuration(duration)
	}

	diarized, transcribed, err := p.detect(ctx, req, workPath, duration, meeting.ExpectedSpeakers)
	if err != nil {
		return err
	}

	aligned := transcription.Align(&transcribed, diarized.Turns)
	if err := p.persistTranscript(req.MeetingID, aligned); err != nil {
		return err
	}

	meta := analysis.Metadata{
		ProjectName:      req.ProjectName,
		Title:            meeting.Title,
		Date:             meeting.Date.Format("2006-01-02"),
		DurationMinutes:  int(duration / 60),
		ExpectedSpeakers: meeting.ExpectedSpeakers,
		Participants:     diarized.Speakers(),
		AIInstructions:   meeting.AIInstructions,
	}

	p.update(req.MeetingID, datastore.StageReport, 80, "Analyse IA en cours...")
	started := time.Now()
	analysisData, err := p.Analyzer.Analyze(ctx, aligned, meta)
	if err != nil {
		p.recordStageError(datastore.StageReport)
		return errors.New(err).
			Category(errors.CategoryNetwork).
			MeetingContext(req.MeetingID, datastore.StageReport).
			Build()
	}

	p.update(req.MeetingID, datastore.StageReport, 90, "Génération du rapport Word...")
	reportFile := p.generateReport(ctx, req, dir, analysisData, aligned, meta)
	p.recordStageDuration(datastore.StageReport, time.Since(started))

	analysisJSON, err := json.Marshal(analysisData)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryValidation).
			MeetingContext(req.MeetingID, datastore.StageReport).
			Build()
	}
	meeting.AnalysisJSON = string(analysisJSON)
	meeting.ReportFile = reportFile
	meeting.Duration = duration
	if err := p.DS.UpdateMeeting(meeting); err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			MeetingContext(req.MeetingID, datastore.StageReport).
			Build()
	}

	if err := p.DS.UpdateProcessingState(req.MeetingID, datastore.StatusCompleted,
		datastore.StageDone, 100, "Traitement terminé avec succès", nil); err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			MeetingContext(req.MeetingID, datastore.StageDone).
			Build()
	}

	p.logger.Info("pipeline run completed",
		"meeting_id", req.MeetingPublicID,
		"segments", len(aligned),
		"speakers", len(diarized.Speakers()),
		"report_file", reportFile)
	return nil
}

// normalize converts the upload to 16 kHz mono WAV. Conversion failure is
// not fatal, the original upload is processed as-is.
func (p *Processor) normalize(ctx context.Context, dir, audioPath string) string {
	normalizedRel := path.Join(dir, normalizedFilename)
	normalizedAbs, err := p.FS.AbsolutePath(normalizedRel)
	if err != nil {
		return audioPath
	}
	if err := p.Audio.Normalize(ctx, audioPath, normalizedAbs); err != nil {
		p.logger.Warn("audio normalization failed, using original file",
			"audio_path", audioPath, "error", err)
		return audioPath
	}
	return normalizedAbs
}

// detect runs diarization and transcription concurrently. Both have a
// degraded fallback so only context cancellation aborts the run.
func (p *Processor) detect(ctx context.Context, req Request, audioPath string, duration float64, expectedSpeakers int) (diarization.Result, transcription.Result, error) {
	var diarized diarization.Result
	var transcribed transcription.Result

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.update(req.MeetingID, datastore.StageDiarization, 20, "Détection des intervenants...")
		started := time.Now()
		result, err := p.Diarizer.Diarize(gctx, audioPath, expectedSpeakers)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p.recordStageError(datastore.StageDiarization)
			p.logger.Warn("diarization failed, falling back to even split",
				"meeting_id", req.MeetingPublicID, "error", err)
			fallback := &diarization.FallbackDiarizer{
				DurationFn: func(context.Context, string) (float64, error) {
					return duration, nil
				},
			}
			result, _ = fallback.Diarize(gctx, audioPath, expectedSpeakers)
		}
		result.Turns = diarization.MergeShortTurns(result.Turns, p.Settings.Diarization.MinSegment)
		diarized = result
		p.recordStageDuration(datastore.StageDiarization, time.Since(started))
		stats := diarization.ComputeStatistics(result.Turns)
		p.logger.Info("diarization finished",
			"meeting_id", req.MeetingID,
			"speakers", stats.TotalSpeakers,
			"turns", len(result.Turns),
			"speaking_time", stats.TotalDuration)
		p.update(req.MeetingID, datastore.StageDiarization, 40,
			fmt.Sprintf("Détection terminée: %d intervenants", len(result.Speakers())))
		return nil
	})

	g.Go(func() error {
		p.update(req.MeetingID, datastore.StageTranscription, 50, "Transcription en cours...")
		started := time.Now()
		result, err := p.Transcriber.Transcribe(gctx, audioPath)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p.recordStageError(datastore.StageTranscription)
			p.logger.Warn("transcription failed, using placeholder transcript",
				"meeting_id", req.MeetingPublicID, "error", err)
			result = transcription.Fallback(duration)
		}
		transcribed = result
		p.recordStageDuration(datastore.StageTranscription, time.Since(started))
		p.update(req.MeetingID, datastore.StageTranscription, 70, "Transcription terminée")
		return nil
	})

	if err := g.Wait(); err != nil {
		return diarization.Result{}, transcription.Result{}, errors.New(err).
			Category(errors.CategoryCancellation).
			MeetingContext(req.MeetingID, datastore.StageTranscription).
			Build()
	}
	return diarized, transcribed, nil
}

func (p *Processor) persistTranscript(meetingID uint, aligned []transcription.AlignedSegment) error {
	segments := make([]datastore.TranscriptSegment, 0, len(aligned))
	for i, seg := range aligned {
		segments = append(segments, datastore.TranscriptSegment{
			MeetingID: meetingID,
			Position:  i,
			Speaker:   seg.Speaker,
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Text:      seg.Text,
		})
	}
	if err := p.DS.ReplaceTranscript(meetingID, segments); err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			MeetingContext(meetingID, datastore.StageTranscription).
			Build()
	}
	return nil
}

// generateReport writes the DOCX into the meeting directory and uploads it
// to the remote target when one is configured. Both are best effort: a
// meeting with analysis but no report is still completed.
func (p *Processor) generateReport(ctx context.Context, req Request, dir string, analysisData map[string]any, aligned []transcription.AlignedSegment, meta analysis.Metadata) string {
	reportRel := path.Join(dir, ReportFilename)
	file, err := p.FS.Create(reportRel)
	if err != nil {
		p.logger.Warn("report file creation failed", "path", reportRel, "error", err)
		return ""
	}
	if err := p.Reports.Generate(analysisData, aligned, meta, file); err != nil {
		file.Close()
		p.recordStageError(datastore.StageReport)
		p.logger.Warn("report generation failed, completing without report",
			"meeting_id", req.MeetingPublicID, "error", err)
		_ = p.FS.Remove(reportRel)
		return ""
	}
	if err := file.Close(); err != nil {
		p.logger.Warn("report file close failed", "path", reportRel, "error", err)
		return ""
	}

	if p.Remote != nil {
		reader, err := p.FS.Open(reportRel)
		if err == nil {
			defer reader.Close()
			if err := p.Remote.Store(ctx, req.ProjectPublicID, req.MeetingPublicID, ReportFilename, reader); err != nil {
				p.logger.Warn("remote report upload failed",
					"target", p.Remote.Name(), "meeting_id", req.MeetingPublicID, "error", err)
			}
		}
	}
	return ReportFilename
}

func (p *Processor) fail(ctx context.Context, req Request, meeting *datastore.Meeting, runErr error) {
	if p.Metrics != nil {
		p.Metrics.RecordRun("failure")
	}
	message := fmt.Sprintf("Erreur: %v", runErr)
	if err := p.DS.SetMeetingError(req.MeetingID, message); err != nil {
		p.logger.Error("failed to record meeting error",
			"meeting_id", req.MeetingPublicID, "error", err)
	}
	p.logger.Error("pipeline run failed",
		"meeting_id", req.MeetingPublicID, "error", runErr)
	p.publish(ctx, mqtt.Event{
		Type:      mqtt.EventFailed,
		MeetingID: req.MeetingPublicID,
		ProjectID: req.ProjectPublicID,
		Title:     meeting.Title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// update writes one progress step. Write failures are logged and skipped,
// a missed progress update must not abort the run.
func (p *Processor) update(meetingID uint, stage string, progress int, message string) {
	eta := etaSeconds(stage, progress)
	if err := p.DS.UpdateProcessingState(meetingID, datastore.StatusProcessing,
		stage, progress, message, eta); err != nil {
		p.logger.Warn("processing state update failed",
			"meeting_id", meetingID, "stage", stage, "progress", progress, "error", err)
	}
}

func (p *Processor) publish(ctx context.Context, event mqtt.Event) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.PublishEvent(ctx, event); err != nil {
		p.logger.Debug("event publish failed", "event", event.Type, "error", err)
	}
}

func (p *Processor) recordStageDuration(stage string, elapsed time.Duration) {
	if p.Metrics != nil {
		p.Metrics.RecordStageDuration(stage, elapsed.Seconds())
	}
}

func (p *Processor) recordStageError(stage string) {
	if p.Metrics != nil {
		p.Metrics.RecordStageError(stage)
	}
}

// etaSeconds estimates the remaining time from the per stage estimates,
// scaled by overall progress.
func etaSeconds(stage string, progress int) *int {
	estimate, ok := stageEstimates[stage]
	if !ok {
		return nil
	}
	eta := estimate * (100 - progress) / 100
	return &eta
}
