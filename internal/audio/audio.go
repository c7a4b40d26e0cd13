// Package audio validates uploaded recordings and prepares them for the
// analysis pipeline.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
	"github.com/cybeform/cybemeeting/internal/logging"
)

// Info describes a probed audio file.
type Info struct {
	Duration   float64 // seconds
	SampleRate int
	Channels   int
	Format     string // file extension without dot
}

// Processor validates, probes and converts audio files.
type Processor struct {
	settings *conf.AudioSettings
	logger   *slog.Logger
}

// NewProcessor creates an audio processor bound to the given settings.
func NewProcessor(settings *conf.AudioSettings) *Processor {
	logger := logging.ForService("audio")
	if logger == nil {
		logger = slog.Default().With("service", "audio")
	}
	return &Processor{
		settings: settings,
		logger:   logger,
	}
}

// Validate checks an uploaded file against the configured size, format and
// duration limits. Error messages are user-facing and therefore French.
func (p *Processor) Validate(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Newf("Fichier audio non trouvé").
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)
	if sizeMB > float64(p.settings.MaxSizeMB) {
		return errors.Newf("Fichier trop volumineux (%.1fMB > %dMB)", sizeMB, p.settings.MaxSizeMB).
			Component("audio").
			Category(errors.CategoryLimit).
			FileContext(path, info.Size()).
			Build()
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !p.formatAllowed(ext) {
		return errors.Newf("Format non supporté: %s", strings.TrimPrefix(ext, ".")).
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	probed, err := p.Probe(ctx, path)
	if err != nil {
		return errors.Newf("Erreur lors de la lecture du fichier: %v", err).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}
	if probed.Duration <= 0 {
		return errors.Newf("Fichier audio corrompu ou vide").
			Component("audio").
			Category(errors.CategoryValidation).
			Build()
	}

	maxSeconds := float64(p.settings.MaxDuration) * 60
	if probed.Duration > maxSeconds {
		return errors.Newf("Fichier trop long (%.1f minutes > %d minutes)", probed.Duration/60, p.settings.MaxDuration).
			Component("audio").
			Category(errors.CategoryLimit).
			Build()
	}

	return nil
}

func (p *Processor) formatAllowed(ext string) bool {
	for _, allowed := range p.settings.AllowedFormats {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// Probe returns duration and stream parameters for an audio file. WAV files
// are decoded natively, everything else goes through ffprobe.
func (p *Processor) Probe(ctx context.Context, path string) (Info, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".wav" {
		info, err := probeWav(path)
		if err == nil {
			return info, nil
		}
		// malformed header, let ffprobe have a go
		p.logger.Debug("native wav probe failed, falling back to ffprobe", "path", filepath.Base(path), "error", err)
	}
	return p.probeFfprobe(ctx, path)
}

// probeWav reads the WAV header without shelling out.
func probeWav(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("not a valid wav file")
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("reading wav duration: %w", err)
	}

	return Info{
		Duration:   duration.Seconds(),
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		Format:     "wav",
	}, nil
}

// ffprobeOutput matches the parts of ffprobe -show_format -show_streams
// JSON output we care about.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func (p *Processor) probeFfprobe(ctx context.Context, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, p.settings.FfprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, errors.Newf("ffprobe failed: %v", err).
			Component("audio").
			Category(errors.CategoryCommandExecution).
			Context("operation", "probe_audio").
			Build()
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Info{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return Info{}, fmt.Errorf("parsing ffprobe duration %q: %w", probed.Format.Duration, err)
	}

	info := Info{
		Duration: duration,
		Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	for _, stream := range probed.Streams {
		if stream.CodecType == "audio" {
			info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
			info.Channels = stream.Channels
			break
		}
	}
	return info, nil
}

// Normalize converts a recording to mono 16 kHz PCM WAV for the
// transcription and diarization backends.
func (p *Processor) Normalize(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, p.settings.FfmpegPath,
		"-y", "-i", inputPath,
		"-ar", strconv.Itoa(p.settings.SampleRate),
		"-ac", strconv.Itoa(p.settings.Channels),
		"-acodec", "pcm_s16le",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Newf("ffmpeg normalization failed: %v: %s", err, truncateOutput(out)).
			Component("audio").
			Category(errors.CategoryCommandExecution).
			Context("operation", "normalize_audio").
			Build()
	}

	p.logger.Info("audio normalized",
		"input", filepath.Base(inputPath),
		"output", filepath.Base(outputPath),
		"sample_rate", p.settings.SampleRate,
		"channels", p.settings.Channels)
	return nil
}

// Chunk splits a recording into consecutive pieces of chunkSeconds each.
// Used when a file exceeds the transcription API upload cap. Returns the
// chunk paths in order.
func (p *Processor) Chunk(ctx context.Context, inputPath, outputDir string, chunkSeconds int, totalDuration float64) ([]string, error) {
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk length must be positive")
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating chunk directory: %w", err)
	}

	var chunks []string
	for i := 0; float64(i)*float64(chunkSeconds) < totalDuration; i++ {
		offset := i * chunkSeconds
		chunkPath := filepath.Join(outputDir, fmt.Sprintf("chunk_%03d.wav", i))

		cmd := exec.CommandContext(ctx, p.settings.FfmpegPath,
			"-y", "-i", inputPath,
			"-ss", strconv.Itoa(offset),
			"-t", strconv.Itoa(chunkSeconds),
			"-acodec", "copy",
			chunkPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, errors.Newf("ffmpeg chunking failed at offset %ds: %v: %s", offset, err, truncateOutput(out)).
				Component("audio").
				Category(errors.CategoryCommandExecution).
				Context("operation", "chunk_audio").
				Build()
		}
		chunks = append(chunks, chunkPath)
	}

	p.logger.Info("audio chunked", "input", filepath.Base(inputPath), "chunks", len(chunks), "chunk_seconds", chunkSeconds)
	return chunks, nil
}

// truncateOutput keeps command output short enough for error messages.
func truncateOutput(out []byte) string {
	const maxLen = 300
	s := strings.TrimSpace(string(out))
	if len(s) > maxLen {
		return s[len(s)-maxLen:]
	}
	return s
}
