package handlers

import (
	"time"

	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/services"
)

type SignRequestResponse struct {
	ID              string              `json:"id"`
	DocumentID      string              `json:"document_id"`
	AssignedToID    string              `json:"assigned_to_id,omitempty"`
	AssignedToName  string              `json:"assigned_to_name"`
	AssignedToRole  string              `json:"assigned_to_role"`
	AssignedToEmail string              `json:"assigned_to_email,omitempty"`
	SignOrder       int                 `json:"sign_order"`
	Status          string              `json:"status"`
	SignedAt        *time.Time          `json:"signed_at"`
	Notes           string              `json:"notes,omitempty"`
	RejectionReason string              `json:"rejection_reason,omitempty"`
	Placeholder     *models.Placeholder `json:"placeholder"`
}

type DocumentResponse struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description,omitempty"`
	BatchID       string                `json:"batch_id,omitempty"`
	BatchNumber   string                `json:"batch_number,omitempty"`
	CreatedBy     string                `json:"created_by,omitempty"`
	CreatedByName string                `json:"created_by_name,omitempty"`
	Status        string                `json:"status"`
	PDFAttached   bool                  `json:"pdf_attached"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	SignRequests  []SignRequestResponse `json:"sign_requests"`
	TotalSigners  int                   `json:"total_signers"`
	SignedCount   int                   `json:"signed_count"`
}

type TaskResponse struct {
	SignRequestResponse
	DocumentTitle  string `json:"document_title"`
	DocumentStatus string `json:"document_status"`
}

func toSignRequestResponse(sr models.SignRequest) SignRequestResponse {
	return SignRequestResponse{
		ID:              sr.ID,
		DocumentID:      sr.DocumentID,
		AssignedToID:    sr.AssignedToID,
		AssignedToName:  sr.AssignedToName,
		AssignedToRole:  sr.AssignedToRole,
		AssignedToEmail: sr.AssignedToEmail,
		SignOrder:       sr.SignOrder,
		Status:          string(sr.Status),
		SignedAt:        sr.SignedAt,
		Notes:           sr.Notes,
		RejectionReason: sr.RejectionReason,
		Placeholder:     sr.Placeholder(),
	}
}

func toDocumentResponse(d *models.Document) DocumentResponse {
	requests := make([]SignRequestResponse, 0, len(d.SignRequests))
	for _, sr := range d.SignRequests {
		requests = append(requests, toSignRequestResponse(sr))
	}
	return DocumentResponse{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		BatchID:       d.BatchID,
		BatchNumber:   d.BatchNumber,
		CreatedBy:     d.CreatedBy,
		CreatedByName: d.CreatedByName,
		Status:        string(d.Status),
		PDFAttached:   d.PDFAttached,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		SignRequests:  requests,
		TotalSigners:  len(d.SignRequests),
		SignedCount:   d.SignedCount(),
	}
}

func toTaskResponse(t services.PendingTask) TaskResponse {
	return TaskResponse{
		SignRequestResponse: toSignRequestResponse(t.Request),
		DocumentTitle:       t.DocumentTitle,
		DocumentStatus:      string(t.DocumentStatus),
	}
}
