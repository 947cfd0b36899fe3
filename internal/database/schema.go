package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	BaseContext   string = "base"
	CustomContext string = "custom"
)

const (
	RunRunning   string = "RUNNING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

const (
	OutcomeAdopted  string = "ADOPTED"
	OutcomeRejected string = "REJECTED"
)

const (
	TriggerHttp      string = "http"
	TriggerCli       string = "cli"
	TriggerScheduled string = "scheduled"
)

// Upload is a dataset received from a session. The most recent one is staged
// by the next custom prediction of that session.
type Upload struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID `gorm:"type:uuid;index"`

	FileName     string
	Path         string
	Size         int64
	CreationTime time.Time
}

type PredictionRun struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID `gorm:"type:uuid;index:idx_prediction_session_context"`
	Context   string    `gorm:"size:20;not null;index:idx_prediction_session_context"`

	InputPath    string
	ArtifactPath string
	ArchiveKey   sql.NullString

	Status      string `gorm:"size:20;not null"`
	FailureKind string `gorm:"size:40"`
	Error       string

	RowCount int
	Columns  datatypes.JSON `gorm:"type:jsonb"`

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type RetrainRun struct {
	Id      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Trigger string    `gorm:"size:20;not null"`

	Outcome string `gorm:"size:20"`
	Reason  string `gorm:"size:40"`
	Error   string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
