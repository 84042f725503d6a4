package workflow

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/utils"
)

type Action string

const (
	ActionSign   Action = "sign"
	ActionReject Action = "reject"
)

const DefaultRejectionReason = "Rejected by signer"

// Roles allowed to delete a document.
var deleteRoles = []string{"admin", "manager"}

type SignerInput struct {
	ID    string
	Name  string `validate:"required,max=256"`
	Email string `validate:"max=256"`
	Role  string `validate:"max=64"`
}

type CreateInput struct {
	Title       string `validate:"required,max=256"`
	Description string
	BatchID     string        `validate:"max=64"`
	BatchNumber string        `validate:"max=128"`
	Signers     []SignerInput `validate:"required,min=1,dive"`
}

type ActInput struct {
	RequestID string
	Caller    CallerIdentity
	Action    Action
	Notes     string
	ClientIP  string
}

type Engine struct {
	validate   *validator.Validate
	sequential bool
	now        func() time.Time
	newID      func(prefix string) string
}

type Option func(*Engine)

// WithSequentialSigning makes a request actionable only once every request
// with a smaller sign_order has been resolved.
func WithSequentialSigning(enabled bool) Option {
	return func(e *Engine) { e.sequential = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func(prefix string) string) Option {
	return func(e *Engine) { e.newID = gen }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    utils.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Sequential() bool {
	return e.sequential
}

// NewDocument builds a document and one pending sign request per signer,
// numbered 1..N in input order. Nothing is persisted here.
func (e *Engine) NewDocument(in CreateInput, caller CallerIdentity) (*models.Document, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Signers = append([]SignerInput(nil), in.Signers...)
	for i := range in.Signers {
		in.Signers[i].Name = strings.TrimSpace(in.Signers[i].Name)
		in.Signers[i].Email = strings.TrimSpace(in.Signers[i].Email)
	}
	if err := e.validate.Struct(in); err != nil {
		return nil, describeValidation(err)
	}

	now := e.now()
	doc := &models.Document{
		ID:            e.newID("doc"),
		Title:         in.Title,
		Description:   in.Description,
		BatchID:       in.BatchID,
		BatchNumber:   in.BatchNumber,
		CreatedBy:     caller.ID,
		CreatedByName: caller.DisplayName(),
		CreatedAt:     now,
		UpdatedAt:     now,
		SignRequests:  make([]models.SignRequest, 0, len(in.Signers)),
	}
	for i, s := range in.Signers {
		role := strings.TrimSpace(s.Role)
		if role == "" {
			role = models.DefaultAssigneeRole
		}
		doc.SignRequests = append(doc.SignRequests, models.SignRequest{
			ID:              e.newID("sr"),
			DocumentID:      doc.ID,
			AssignedToID:    strings.TrimSpace(s.ID),
			AssignedToName:  s.Name,
			AssignedToRole:  role,
			AssignedToEmail: s.Email,
			SignOrder:       i + 1,
			Status:          models.RequestPending,
			CreatedAt:       now,
		})
	}
	doc.Status = DeriveStatus(doc.SignRequests)
	return doc, nil
}

// Apply records a sign or reject action on one of doc's requests and
// re-derives the document status. doc is mutated in place; the returned
// pointer refers to the updated element of doc.SignRequests.
func (e *Engine) Apply(doc *models.Document, in ActInput) (*models.SignRequest, error) {
	if in.Action != ActionSign && in.Action != ActionReject {
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	sr := doc.FindRequest(in.RequestID)
	if sr == nil {
		return nil, fmt.Errorf("%w: sign request %s on document %s", ErrNotFound, in.RequestID, doc.ID)
	}
	if !sr.IsPending() {
		return nil, fmt.Errorf("%w: sign request already %s", ErrInvalidState, sr.Status)
	}
	if !Matches(in.Caller, sr.Assignee()) {
		return nil, fmt.Errorf("%w: sign request %s is assigned to someone else", ErrAuthorization, sr.ID)
	}
	if e.sequential {
		if blocker := firstPendingBefore(doc, sr.SignOrder); blocker != nil {
			return nil, fmt.Errorf("%w: step %d (%s) has not been resolved yet", ErrInvalidState, blocker.SignOrder, blocker.AssignedToName)
		}
	}

	now := e.now()
	sr.Notes = in.Notes
	sr.SignedByIP = in.ClientIP
	switch in.Action {
	case ActionSign:
		sr.Status = models.RequestSigned
		sr.SignedAt = &now
	case ActionReject:
		sr.Status = models.RequestRejected
		sr.RejectionReason = strings.TrimSpace(in.Notes)
		if sr.RejectionReason == "" {
			sr.RejectionReason = DefaultRejectionReason
		}
	}
	doc.Status = DeriveStatus(doc.SignRequests)
	doc.UpdatedAt = now
	return sr, nil
}

func firstPendingBefore(doc *models.Document, order int) *models.SignRequest {
	var blocker *models.SignRequest
	for i := range doc.SignRequests {
		sr := &doc.SignRequests[i]
		if sr.SignOrder < order && sr.IsPending() && (blocker == nil || sr.SignOrder < blocker.SignOrder) {
			blocker = sr
		}
	}
	return blocker
}

// ValidatePlaceholder checks the hard bounds of a signature box. A box that
// runs past the page edge is accepted; see Placeholder.Overflows.
func ValidatePlaceholder(p models.Placeholder) error {
	if p.Page < 1 {
		return fmt.Errorf("%w: placeholder page must be >= 1", ErrValidation)
	}
	coords := []struct {
		name string
		v    float64
	}{{"x", p.X}, {"y", p.Y}, {"w", p.W}, {"h", p.H}}
	for _, c := range coords {
		if math.IsNaN(c.v) || c.v < 0 || c.v > 100 {
			return fmt.Errorf("%w: placeholder %s must be within [0, 100], got %g", ErrValidation, c.name, c.v)
		}
	}
	return nil
}

// PlacePlaceholder overwrites the geometry of one request. It has no effect
// on any status.
func (e *Engine) PlacePlaceholder(doc *models.Document, requestID string, p models.Placeholder) (*models.SignRequest, error) {
	if err := ValidatePlaceholder(p); err != nil {
		return nil, err
	}
	sr := doc.FindRequest(requestID)
	if sr == nil {
		return nil, fmt.Errorf("%w: sign request %s on document %s", ErrNotFound, requestID, doc.ID)
	}
	sr.PlaceholderPage = p.Page
	sr.PlaceholderX = p.X
	sr.PlaceholderY = p.Y
	sr.PlaceholderW = p.W
	sr.PlaceholderH = p.H
	return sr, nil
}

// CanDelete gates administrative deletion on the caller's role.
func CanDelete(caller CallerIdentity) error {
	role := utils.NormalizeKey(caller.Role)
	for _, r := range deleteRoles {
		if role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: deleting documents requires one of the roles %s", ErrAuthorization, strings.Join(deleteRoles, ", "))
}

func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fe := fieldErrs[0]
	switch {
	case fe.StructField() == "Title" && fe.Tag() == "required":
		return fmt.Errorf("%w: title must not be empty", ErrValidation)
	case fe.StructField() == "Signers":
		return fmt.Errorf("%w: at least one signer is required", ErrValidation)
	case fe.StructField() == "Name" && fe.Tag() == "required":
		return fmt.Errorf("%w: %s has no name", ErrValidation, signerLabel(fe.Namespace()))
	case fe.Tag() == "max":
		return fmt.Errorf("%w: %s is longer than %s characters", ErrValidation, fe.Namespace(), fe.Param())
	}
	return fmt.Errorf("%w: %s failed %q", ErrValidation, fe.Namespace(), fe.Tag())
}

// signerLabel turns "CreateInput.Signers[2].Name" into "signer 3".
func signerLabel(ns string) string {
	open := strings.Index(ns, "[")
	end := strings.Index(ns, "]")
	if open < 0 || end <= open {
		return "signer"
	}
	var idx int
	if _, err := fmt.Sscanf(ns[open+1:end], "%d", &idx); err != nil {
		return "signer"
	}
	return fmt.Sprintf("signer %d", idx+1)
}
