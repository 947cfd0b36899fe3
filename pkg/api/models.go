package api

import (
	"time"

	"github.com/google/uuid"
)

type PredictionParams struct {
	Limit int `schema:"limit"`
}

type PredictionSummary struct {
	Column string
	Min    float64
	Max    float64
	Mean   float64
	Median float64
}

type PredictionResponse struct {
	RunId   uuid.UUID
	Context string

	Columns   []string
	Rows      [][]string
	TotalRows int

	Summary *PredictionSummary `json:"Summary,omitempty"`
}

type UploadResponse struct {
	Id       uuid.UUID
	FileName string
	Size     int64
}

type PredictionRun struct {
	Id      uuid.UUID
	Context string
	Status  string

	FailureKind string `json:"FailureKind,omitempty"`
	RowCount    int
	Archived    bool

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type RetrainParams struct {
	Trigger string `schema:"trigger"`
}

type RetrainResponse struct {
	RunId    uuid.UUID
	Decision string
	Reason   string `json:"Reason,omitempty"`
	Message  string
}

type RetrainRun struct {
	Id      uuid.UUID
	Trigger string
	Outcome string
	Reason  string `json:"Reason,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type ListRunsParams struct {
	Limit int `schema:"limit"`
}
