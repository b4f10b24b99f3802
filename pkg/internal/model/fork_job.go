package model

import "time"

// ForkStatus fork 任务状态.
type ForkStatus string

const (
	ForkRunning  ForkStatus = "RUNNING"
	ForkFinished ForkStatus = "FINISHED"
	ForkFailed   ForkStatus = "FAILED"
)

// ForkJob 项目 fork 任务，CurrentFileID 为恢复游标.
type ForkJob struct {
	JobID           string     `gorm:"primaryKey;size:26" json:"job_id"`
	SourceProjectID string     `gorm:"size:64;index"      json:"source_project_id"`
	TargetProjectID string     `gorm:"size:64;index"      json:"target_project_id"`
	SourceOrg       string     `gorm:"size:64"            json:"source_org"`
	TargetOrg       string     `gorm:"size:64"            json:"target_org"`
	UserID          string     `gorm:"size:64"            json:"user_id"`
	Status          ForkStatus `gorm:"size:16;index"      json:"status"`
	TotalFiles      int64      `json:"total_files"`
	ProcessedFiles  int64      `json:"processed_files"`
	FailedFiles     int64      `json:"failed_files"`
	CurrentFileID   string     `gorm:"size:26"            json:"current_file_id"`
	Progress        int        `json:"progress"`
	ErrMessage      string     `gorm:"type:text"          json:"err_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (ForkJob) TableName() string {
	return "fork_jobs"
}

// Terminal 任务已结束.
func (j *ForkJob) Terminal() bool {
	return j.Status == ForkFinished || j.Status == ForkFailed
}
