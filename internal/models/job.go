package models

import "time"

// Job is the appraisal job a vendor file belongs to. Job CRUD lives outside
// this service; the engine only reads it and advances its file version.
type Job struct {
	SourceFileUploadedAt *time.Time `json:"sourceFileUploadedAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	Name                 string     `json:"name"`
	Vendor               string     `json:"vendor"`
	CCDD                 string     `json:"ccdd"`
	County               string     `json:"county"`
	ID                   int64      `json:"id"`
	Year                 int        `json:"year"`
	FileVersion          int        `json:"fileVersion"`
}

// TableName is the PostgreSQL table holding jobs.
func (Job) TableName() string {
	return "jobs"
}
