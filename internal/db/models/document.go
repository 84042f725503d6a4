package models

import (
	"time"
)

type DocumentStatus string

const (
	StatusDraft      DocumentStatus = "draft"
	StatusInProgress DocumentStatus = "in_progress"
	StatusComplete   DocumentStatus = "complete"
	StatusRejected   DocumentStatus = "rejected"
)

// Document is one sign-off workflow instance. Status is derived from the
// sign requests and is only ever written by the workflow engine.
type Document struct {
	ID            string         `gorm:"primaryKey;size:64"`
	Title         string         `gorm:"size:256;not null"`
	Description   string         `gorm:"type:text"`
	BatchID       string         `gorm:"size:64;index"`
	BatchNumber   string         `gorm:"size:128"`
	CreatedBy     string         `gorm:"size:64"`
	CreatedByName string         `gorm:"size:256"`
	Status        DocumentStatus `gorm:"size:32;not null;default:'draft';index"`
	PDFAttached   bool           `gorm:"not null;default:false"`
	CreatedAt     time.Time      `gorm:"index"`
	UpdatedAt     time.Time
	SignRequests  []SignRequest  `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	File          *DocumentFile  `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

func (Document) TableName() string {
	return "signoff_documents"
}

// SignedCount returns how many requests are in the signed state.
func (d *Document) SignedCount() int {
	n := 0
	for _, sr := range d.SignRequests {
		if sr.Status == RequestSigned {
			n++
		}
	}
	return n
}

// FindRequest returns a pointer into d.SignRequests so callers can mutate it.
func (d *Document) FindRequest(id string) *SignRequest {
	for i := range d.SignRequests {
		if d.SignRequests[i].ID == id {
			return &d.SignRequests[i]
		}
	}
	return nil
}
