// Package process implements the process command, running the full meeting
// analysis pipeline on a local audio file without starting the server.
package process

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/pipeline"
	"github.com/cybeform/cybemeeting/internal/securefs"
)

// Command creates the process command for one-shot analysis of an audio file.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		outputDir    string
		speakers     int
		title        string
		projectName  string
		instructions string
	)

	cmd := &cobra.Command{
		Use:   "process [audio file]",
		Short: "Analyze a meeting recording",
		Long:  "Run diarization, transcription and analysis on a local audio file and write the report next to it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := options{
				input:        args[0],
				outputDir:    outputDir,
				speakers:     speakers,
				title:        title,
				projectName:  projectName,
				instructions: instructions,
			}
			return run(cmd, settings, &opts)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to write the report and analysis to")
	cmd.Flags().IntVarP(&speakers, "speakers", "n", 2, "Expected number of speakers (1-20)")
	cmd.Flags().StringVar(&title, "title", "", "Meeting title, defaults to the file name")
	cmd.Flags().StringVar(&projectName, "project", "Analyse locale", "Project name used in the report header")
	cmd.Flags().StringVar(&instructions, "instructions", "", "Extra instructions passed to the analysis model")

	return cmd
}

type options struct {
	input        string
	outputDir    string
	speakers     int
	title        string
	projectName  string
	instructions string
}

// run stages the audio file into a throwaway datastore and data directory,
// runs the pipeline on it and copies the resulting artifacts to the output
// directory.
func run(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	if opts.speakers < 1 || opts.speakers > 20 {
		return fmt.Errorf("expected speakers must be between 1 and 20, got %d", opts.speakers)
	}
	if _, err := os.Stat(opts.input); err != nil {
		return fmt.Errorf("cannot read input file: %w", err)
	}

	workDir, err := os.MkdirTemp("", "cybemeeting-")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Use an isolated database and data directory so a local run never
	// touches the server state.
	local := *settings
	local.Storage.SQLite.Enabled = true
	local.Storage.SQLite.Path = filepath.Join(workDir, "cybemeeting.db")
	local.Storage.MySQL.Enabled = false
	local.Storage.DataPath = filepath.Join(workDir, "data")
	local.Storage.Remote.Enabled = false

	store := datastore.New(&local)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	sfs, err := securefs.New(local.Storage.DataPath)
	if err != nil {
		return fmt.Errorf("failed to initialize data directory: %w", err)
	}

	title := opts.title
	if title == "" {
		base := filepath.Base(opts.input)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	user := datastore.User{
		PublicID:     uuid.NewString(),
		Email:        "local@cybemeeting",
		PasswordHash: "-",
		FirstName:    "Local",
		LastName:     "Run",
		IsActive:     true,
	}
	if err := store.CreateUser(&user); err != nil {
		return fmt.Errorf("failed to create staging user: %w", err)
	}

	project := datastore.Project{
		PublicID: uuid.NewString(),
		UserID:   user.ID,
		Name:     opts.projectName,
	}
	if err := store.CreateProject(&project); err != nil {
		return fmt.Errorf("failed to create staging project: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(opts.input))
	meeting := datastore.Meeting{
		PublicID:         uuid.NewString(),
		ProjectID:        project.ID,
		Title:            title,
		Date:             time.Now(),
		ExpectedSpeakers: opts.speakers,
		AudioFile:        "audio" + ext,
		AudioFormat:      strings.TrimPrefix(ext, "."),
		Status:           datastore.StatusPending,
		AIInstructions:   opts.instructions,
	}
	if err := store.CreateMeeting(&meeting); err != nil {
		return fmt.Errorf("failed to create staging meeting: %w", err)
	}

	meetingDir := securefs.MeetingDir(user.PublicID, project.PublicID, meeting.PublicID)
	if err := sfs.MkdirAll(meetingDir); err != nil {
		return fmt.Errorf("failed to create meeting directory: %w", err)
	}
	src, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("cannot open input file: %w", err)
	}
	_, err = sfs.SaveStream(filepath.Join(meetingDir, meeting.AudioFile), src)
	src.Close()
	if err != nil {
		return fmt.Errorf("failed to stage audio file: %w", err)
	}

	fmt.Printf("Processing %s (%d expected speakers)\n", opts.input, opts.speakers)
	start := time.Now()

	proc := pipeline.New(&local, store, sfs)
	req := pipeline.Request{
		MeetingID:       meeting.ID,
		UserPublicID:    user.PublicID,
		ProjectPublicID: project.PublicID,
		MeetingPublicID: meeting.PublicID,
		ProjectName:     project.Name,
	}
	if err := proc.Run(cmd.Context(), req); err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	meeting, err = store.GetMeetingByID(meeting.ID)
	if err != nil {
		return fmt.Errorf("failed to reload meeting: %w", err)
	}
	if meeting.Status == datastore.StatusError {
		return fmt.Errorf("processing failed: %s", meeting.ErrorMessage)
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(opts.input), ext)
	if meeting.ReportFile != "" {
		dest := filepath.Join(opts.outputDir, base+".docx")
		if err := copyOut(sfs, filepath.Join(meetingDir, meeting.ReportFile), dest); err != nil {
			return fmt.Errorf("failed to copy report: %w", err)
		}
		fmt.Printf("Report written to %s\n", dest)
	}
	if meeting.AnalysisJSON != "" {
		dest := filepath.Join(opts.outputDir, base+".json")
		if err := os.WriteFile(dest, []byte(meeting.AnalysisJSON), 0o644); err != nil {
			return fmt.Errorf("failed to write analysis: %w", err)
		}
		fmt.Printf("Analysis written to %s\n", dest)
	}

	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Second))
	return nil
}

func copyOut(sfs *securefs.SecureFS, relPath, dest string) error {
	src, err := sfs.Open(relPath)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
