// model.go this code defines the data model for the application
package datastore

import "time"

// Meeting status values shown to clients. Displayed as-is in the UI,
// which is French.
const (
	StatusPending    = "En attente"
	StatusProcessing = "En cours de traitement"
	StatusCompleted  = "Terminé"
	StatusError      = "Erreur"
)

// Processing stage identifiers for the analysis pipeline.
const (
	StageUpload        = "upload"
	StageDiarization   = "diarization"
	StageTranscription = "transcription"
	StageReport        = "report"
	StageDone          = "done"
	StageError         = "error"
)

// User represents a registered account
type User struct {
	ID           uint   `gorm:"primaryKey"`
	PublicID     string `gorm:"type:varchar(36);uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	FirstName    string
	LastName     string
	Company      string
	IsActive     bool `gorm:"default:true"`
	CreatedAt    time.Time
	Projects     []Project `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Project represents a construction project grouping meetings
type Project struct {
	ID          uint   `gorm:"primaryKey"`
	PublicID    string `gorm:"type:varchar(36);uniqueIndex;not null"`
	UserID      uint   `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:UserID;references:ID"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Client      string
	Location    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Meetings    []Meeting `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

// Meeting represents a recorded meeting and its processing state
type Meeting struct {
	ID               uint      `gorm:"primaryKey"`
	PublicID         string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	ProjectID        uint      `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:ProjectID;references:ID"`
	Title            string    `gorm:"not null"`
	Date             time.Time `gorm:"index"`
	ExpectedSpeakers int
	AIInstructions   string `gorm:"type:text"` // custom user instructions passed to the analysis model

	// Audio metadata, set on upload
	AudioFile   string  // stored filename relative to the meeting directory
	AudioFormat string  // file extension without dot
	Duration    float64 // seconds

	// Processing state, written by the pipeline and polled by clients
	Status       string `gorm:"default:'En attente'"`
	Stage        string
	Progress     int `gorm:"default:0"`
	Message      string
	ETASeconds   *int
	ErrorMessage string

	// Analysis output
	AnalysisJSON string `gorm:"type:text"` // structured analysis as returned by the model
	ReportFile   string // generated DOCX filename relative to the meeting directory

	CreatedAt time.Time
	UpdatedAt time.Time
	Segments  []TranscriptSegment `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE"`
}

// TranscriptSegment represents one diarized and transcribed span of speech
type TranscriptSegment struct {
	ID        uint `gorm:"primaryKey"`
	MeetingID uint `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:MeetingID;references:ID"`
	Position  int  `gorm:"index"` // order within the transcript
	Speaker   string
	StartTime float64
	EndTime   float64
	Text      string `gorm:"type:text"`
}

// Copy creates a deep copy of the TranscriptSegment struct
func (s TranscriptSegment) Copy() TranscriptSegment {
	return TranscriptSegment{
		ID:        s.ID,
		MeetingID: s.MeetingID,
		Position:  s.Position,
		Speaker:   s.Speaker,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Text:      s.Text,
	}
}
