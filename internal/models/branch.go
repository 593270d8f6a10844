package models

import "time"

// Branch mirrors the upstream branch catalog; UUID matches the branch_id
// the journal service reports.
type Branch struct {
	UUID      string    `gorm:"primaryKey;size:36" json:"uuid"`
	Name      string    `gorm:"size:300" json:"name"`
	Address   string    `gorm:"size:500" json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
