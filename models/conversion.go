package models

import (
	"path"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// SourceFile describes a stored blob. ContentHash is the hex SHA-256 of
// the bytes and is the only part of the file that feeds the request key.
type SourceFile struct {
	ID          int64  `json:"id"`
	ContentHash string `json:"contentHash"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	Size        int64  `json:"size"`
}

func (f SourceFile) Extension() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Filename), "."))
}

type ConversionRecord struct {
	ID            int64       `json:"id"`
	SourceFileID  int64       `json:"sourceFileId"`
	SourceFile    *SourceFile `json:"sourceFile,omitempty"`
	TargetFormat  string      `json:"targetFormat"`
	Status        Status      `json:"status"`
	Converter     string      `json:"converter"`
	DestFileID    int64       `json:"destFileId,omitempty"`
	StatusMessage string      `json:"statusMessage,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// ConversionRequest is the parameter set sent to ConvertService.ashx.
type ConversionRequest struct {
	Key          string `json:"key"`
	SourceURL    string `json:"url"`
	TargetFormat string `json:"outputtype"`
	FileType     string `json:"filetype,omitempty"`
	CodePage     int    `json:"codePage"`
	Async        bool   `json:"async"`
	Title        string `json:"title,omitempty"`
}

// RemoteConversionResult is a decoded, error-free answer of the document
// server. Done == false means the conversion is still running.
type RemoteConversionResult struct {
	Done      bool
	ResultURL string
	Percent   int
}

type ConversionEvent struct {
	ID           string    `json:"id"`
	ConversionID int64     `json:"conversionId"`
	SourceFileID int64     `json:"sourceFileId"`
	TargetFormat string    `json:"targetFormat"`
	Status       Status    `json:"status"`
	Message      string    `json:"message,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// ConversionJob is pushed on the pending queue by the host application to
// ask for a conversion to be started.
type ConversionJob struct {
	ConversionID int64     `json:"conversionId"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}
