package models

import (
	"time"
)

type SignRequestStatus string

const (
	RequestPending  SignRequestStatus = "pending"
	RequestSigned   SignRequestStatus = "signed"
	RequestRejected SignRequestStatus = "rejected"
	RequestSkipped  SignRequestStatus = "skipped"
)

const DefaultAssigneeRole = "operator"

// Assignee identifies who a sign request is meant for. Any subset of the
// fields may be recorded; matching is done by workflow.Matches.
type Assignee struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// Placeholder is a rectangle on a rendered PDF page, in percent of the page
// width/height.
type Placeholder struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// Overflows reports whether the box extends past the page edge.
func (p Placeholder) Overflows() bool {
	return p.X+p.W > 100 || p.Y+p.H > 100
}

type SignRequest struct {
	ID              string            `gorm:"primaryKey;size:64"`
	DocumentID      string            `gorm:"size:64;not null;uniqueIndex:idx_sign_requests_doc_order,priority:1"`
	AssignedToID    string            `gorm:"size:64;index"`
	AssignedToName  string            `gorm:"size:256;not null"`
	AssignedToRole  string            `gorm:"size:64;not null;default:'operator'"`
	AssignedToEmail string            `gorm:"size:256"`
	SignOrder       int               `gorm:"not null;uniqueIndex:idx_sign_requests_doc_order,priority:2"`
	Status          SignRequestStatus `gorm:"size:32;not null;default:'pending';index"`
	SignedAt        *time.Time
	SignedByIP      string `gorm:"size:64"`
	Notes           string `gorm:"type:text"`
	RejectionReason string `gorm:"type:text"`
	PlaceholderPage int    `gorm:"not null;default:0"`
	PlaceholderX    float64
	PlaceholderY    float64
	PlaceholderW    float64
	PlaceholderH    float64
	CreatedAt       time.Time
}

func (SignRequest) TableName() string {
	return "sign_requests"
}

func (sr *SignRequest) Assignee() Assignee {
	return Assignee{
		ID:    sr.AssignedToID,
		Name:  sr.AssignedToName,
		Email: sr.AssignedToEmail,
		Role:  sr.AssignedToRole,
	}
}

func (sr *SignRequest) IsPending() bool {
	return sr.Status == RequestPending
}

// Placeholder returns nil when no box has been placed for this request.
func (sr *SignRequest) Placeholder() *Placeholder {
	if sr.PlaceholderPage < 1 {
		return nil
	}
	return &Placeholder{
		Page: sr.PlaceholderPage,
		X:    sr.PlaceholderX,
		Y:    sr.PlaceholderY,
		W:    sr.PlaceholderW,
		H:    sr.PlaceholderH,
	}
}
