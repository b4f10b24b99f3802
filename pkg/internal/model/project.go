package model

import "time"

// Project 项目，节点 key 必须位于 WorkDir 之下.
type Project struct {
	ProjectID        string    `gorm:"primaryKey;size:64" json:"project_id"`
	OrganizationCode string    `gorm:"size:64;index"      json:"organization_code"`
	UserID           string    `gorm:"size:64"            json:"user_id"`
	WorkDir          string    `gorm:"size:1024"          json:"work_dir"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}
