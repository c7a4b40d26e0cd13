// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
)

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the requesting user. Callers must not be able to distinguish
// the two cases.
var ErrNotFound = errors.Newf("record not found").Category(errors.CategoryNotFound).Build()

// Interface abstracts the underlying database implementation and defines the interface for database operations.
type Interface interface {
	Open() error
	Close() error

	// users
	CreateUser(user *User) error
	GetUserByEmail(email string) (User, error)
	GetUserByPublicID(publicID string) (User, error)

	// projects
	CreateProject(project *Project) error
	GetProject(userID uint, publicID string) (Project, error)
	GetUserProjects(userID uint) ([]Project, error)
	UpdateProject(project *Project) error
	DeleteProject(userID uint, publicID string) error
	CountProjectMeetings(projectID uint) (int64, error)

	// meetings
	CreateMeeting(meeting *Meeting) error
	GetMeeting(projectID uint, publicID string) (Meeting, error)
	GetMeetingByID(id uint) (Meeting, error)
	GetUserMeeting(userID uint, publicID string) (Meeting, Project, error)
	GetProjectMeetings(projectID uint) ([]Meeting, error)
	UpdateMeeting(meeting *Meeting) error
	DeleteMeeting(projectID uint, publicID string) error
	UpdateProcessingState(meetingID uint, status, stage string, progress int, message string, etaSeconds *int) error
	SetMeetingError(meetingID uint, message string) error

	// transcript
	ReplaceTranscript(meetingID uint, segments []TranscriptSegment) error
	GetTranscript(meetingID uint) ([]TranscriptSegment, error)
	GetSpeakers(meetingID uint) ([]string, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Storage.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Storage.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// translateError maps gorm errors to datastore sentinel errors.
func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateUser inserts a new user record.
func (ds *DataStore) CreateUser(user *User) error {
	if err := ds.DB.Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email address.
func (ds *DataStore) GetUserByEmail(email string) (User, error) {
	var user User
	if err := ds.DB.Where("email = ?", email).First(&user).Error; err != nil {
		return User{}, translateError(err)
	}
	return user, nil
}

// GetUserByPublicID retrieves a user by its public identifier.
func (ds *DataStore) GetUserByPublicID(publicID string) (User, error) {
	var user User
	if err := ds.DB.Where("public_id = ?", publicID).First(&user).Error; err != nil {
		return User{}, translateError(err)
	}
	return user, nil
}

// CreateProject inserts a new project record.
func (ds *DataStore) CreateProject(project *Project) error {
	if err := ds.DB.Create(project).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by public ID, scoped to its owner.
// A project owned by another user yields ErrNotFound.
func (ds *DataStore) GetProject(userID uint, publicID string) (Project, error) {
	var project Project
	err := ds.DB.Where("user_id = ? AND public_id = ?", userID, publicID).First(&project).Error
	if err != nil {
		return Project{}, translateError(err)
	}
	return project, nil
}

// GetUserProjects retrieves all projects owned by a user, newest first.
func (ds *DataStore) GetUserProjects(userID uint) ([]Project, error) {
	var projects []Project
	err := ds.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("getting projects for user %d: %w", userID, err)
	}
	return projects, nil
}

// UpdateProject saves changes to an existing project.
func (ds *DataStore) UpdateProject(project *Project) error {
	if err := ds.DB.Save(project).Error; err != nil {
		return fmt.Errorf("updating project %d: %w", project.ID, err)
	}
	return nil
}

// DeleteProject removes a project, its meetings and their transcripts
// within a transaction.
func (ds *DataStore) DeleteProject(userID uint, publicID string) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var project Project
		if err := tx.Where("user_id = ? AND public_id = ?", userID, publicID).First(&project).Error; err != nil {
			return translateError(err)
		}

		var meetingIDs []uint
		if err := tx.Model(&Meeting{}).Where("project_id = ?", project.ID).Pluck("id", &meetingIDs).Error; err != nil {
			return fmt.Errorf("listing meetings for project %d: %w", project.ID, err)
		}

		if len(meetingIDs) > 0 {
			if err := tx.Where("meeting_id IN ?", meetingIDs).Delete(&TranscriptSegment{}).Error; err != nil {
				return fmt.Errorf("deleting transcripts for project %d: %w", project.ID, err)
			}
			if err := tx.Where("project_id = ?", project.ID).Delete(&Meeting{}).Error; err != nil {
				return fmt.Errorf("deleting meetings for project %d: %w", project.ID, err)
			}
		}

		if err := tx.Delete(&project).Error; err != nil {
			return fmt.Errorf("deleting project %d: %w", project.ID, err)
		}
		return nil
	})
}

// CountProjectMeetings returns the number of meetings in a project.
func (ds *DataStore) CountProjectMeetings(projectID uint) (int64, error) {
	var count int64
	err := ds.DB.Model(&Meeting{}).Where("project_id = ?", projectID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting meetings for project %d: %w", projectID, err)
	}
	return count, nil
}

// CreateMeeting inserts a new meeting record.
func (ds *DataStore) CreateMeeting(meeting *Meeting) error {
	if err := ds.DB.Create(meeting).Error; err != nil {
		return fmt.Errorf("creating meeting: %w", err)
	}
	return nil
}

// GetMeeting retrieves a meeting by public ID, scoped to its project.
func (ds *DataStore) GetMeeting(projectID uint, publicID string) (Meeting, error) {
	var meeting Meeting
	err := ds.DB.Where("project_id = ? AND public_id = ?", projectID, publicID).First(&meeting).Error
	if err != nil {
		return Meeting{}, translateError(err)
	}
	return meeting, nil
}

// GetMeetingByID retrieves a meeting by its internal ID.
func (ds *DataStore) GetMeetingByID(id uint) (Meeting, error) {
	var meeting Meeting
	if err := ds.DB.First(&meeting, id).Error; err != nil {
		return Meeting{}, translateError(err)
	}
	return meeting, nil
}

// GetUserMeeting retrieves a meeting by public ID together with its
// project, scoped to the owning user. A meeting under another user's
// project yields ErrNotFound.
func (ds *DataStore) GetUserMeeting(userID uint, publicID string) (Meeting, Project, error) {
	var meeting Meeting
	err := ds.DB.
		Joins("JOIN projects ON projects.id = meetings.project_id").
		Where("projects.user_id = ? AND meetings.public_id = ?", userID, publicID).
		First(&meeting).Error
	if err != nil {
		return Meeting{}, Project{}, translateError(err)
	}

	var project Project
	if err := ds.DB.First(&project, meeting.ProjectID).Error; err != nil {
		return Meeting{}, Project{}, translateError(err)
	}
	return meeting, project, nil
}

// GetProjectMeetings retrieves all meetings of a project, newest first.
func (ds *DataStore) GetProjectMeetings(projectID uint) ([]Meeting, error) {
	var meetings []Meeting
	err := ds.DB.Where("project_id = ?", projectID).Order("created_at DESC").Find(&meetings).Error
	if err != nil {
		return nil, fmt.Errorf("getting meetings for project %d: %w", projectID, err)
	}
	return meetings, nil
}

// UpdateMeeting saves changes to an existing meeting.
func (ds *DataStore) UpdateMeeting(meeting *Meeting) error {
	if err := ds.DB.Save(meeting).Error; err != nil {
		return fmt.Errorf("updating meeting %d: %w", meeting.ID, err)
	}
	return nil
}

// DeleteMeeting removes a meeting and its transcript within a transaction.
func (ds *DataStore) DeleteMeeting(projectID uint, publicID string) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var meeting Meeting
		if err := tx.Where("project_id = ? AND public_id = ?", projectID, publicID).First(&meeting).Error; err != nil {
			return translateError(err)
		}
		if err := tx.Where("meeting_id = ?", meeting.ID).Delete(&TranscriptSegment{}).Error; err != nil {
			return fmt.Errorf("deleting transcript for meeting %d: %w", meeting.ID, err)
		}
		if err := tx.Delete(&meeting).Error; err != nil {
			return fmt.Errorf("deleting meeting %d: %w", meeting.ID, err)
		}
		return nil
	})
}

// UpdateProcessingState writes the polled processing fields of a meeting.
// Used by the pipeline on every stage transition.
func (ds *DataStore) UpdateProcessingState(meetingID uint, status, stage string, progress int, message string, etaSeconds *int) error {
	updates := map[string]any{
		"status":      status,
		"stage":       stage,
		"progress":    progress,
		"message":     message,
		"eta_seconds": etaSeconds,
	}
	result := ds.DB.Model(&Meeting{}).Where("id = ?", meetingID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating processing state for meeting %d: %w", meetingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMeetingError marks a meeting as failed with an error message.
func (ds *DataStore) SetMeetingError(meetingID uint, message string) error {
	updates := map[string]any{
		"status":        StatusError,
		"stage":         StageError,
		"message":       message,
		"error_message": message,
		"eta_seconds":   nil,
	}
	result := ds.DB.Model(&Meeting{}).Where("id = ?", meetingID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("marking meeting %d as failed: %w", meetingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceTranscript atomically replaces the transcript of a meeting.
func (ds *DataStore) ReplaceTranscript(meetingID uint, segments []TranscriptSegment) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", meetingID).Delete(&TranscriptSegment{}).Error; err != nil {
			return fmt.Errorf("clearing transcript for meeting %d: %w", meetingID, err)
		}
		for i := range segments {
			segments[i].ID = 0
			segments[i].MeetingID = meetingID
			segments[i].Position = i
			if err := tx.Create(&segments[i]).Error; err != nil {
				return fmt.Errorf("saving transcript segment %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetTranscript retrieves the transcript of a meeting in order.
func (ds *DataStore) GetTranscript(meetingID uint) ([]TranscriptSegment, error) {
	var segments []TranscriptSegment
	err := ds.DB.Where("meeting_id = ?", meetingID).Order("position ASC").Find(&segments).Error
	if err != nil {
		return nil, fmt.Errorf("getting transcript for meeting %d: %w", meetingID, err)
	}
	return segments, nil
}

// GetSpeakers returns the distinct speaker labels of a meeting transcript.
func (ds *DataStore) GetSpeakers(meetingID uint) ([]string, error) {
	var speakers []string
	err := ds.DB.Model(&TranscriptSegment{}).
		Where("meeting_id = ?", meetingID).
		Distinct("speaker").
		Order("speaker ASC").
		Pluck("speaker", &speakers).Error
	if err != nil {
		return nil, fmt.Errorf("getting speakers for meeting %d: %w", meetingID, err)
	}
	return speakers, nil
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&User{}, &Project{}, &Meeting{}, &TranscriptSegment{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}
