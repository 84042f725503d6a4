package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/utils"
	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/metrics"
)

type ListLimits struct {
	Default int
	Max     int
}

type DocumentFilter struct {
	Status  models.DocumentStatus
	BatchID string
	Limit   int
}

// PendingTask is a sign request waiting for the caller, with enough of its
// document to show in a task list.
type PendingTask struct {
	Request        models.SignRequest
	DocumentTitle  string
	DocumentStatus models.DocumentStatus
}

type DocumentService struct {
	db      *gorm.DB
	engine  *workflow.Engine
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	limits  ListLimits
	locks   *documentLocks
}

func NewDocumentService(db *gorm.DB, engine *workflow.Engine, logger *zap.Logger, metrics *metrics.MetricsCollector, limits ListLimits) *DocumentService {
	if limits.Default <= 0 {
		limits.Default = 50
	}
	if limits.Max < limits.Default {
		limits.Max = limits.Default
	}
	return &DocumentService{
		db:      db,
		engine:  engine,
		logger:  logger.With(zap.String("service", "document_service")),
		metrics: metrics,
		limits:  limits,
		locks:   &documentLocks{},
	}
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", workflow.ErrNotFound, what, id)
	}
	return err
}

func orderedRequests(db *gorm.DB) *gorm.DB {
	return db.Order("sign_order ASC")
}

// CreateDocument persists a new document and all of its sign requests in a
// single transaction.
func (ds *DocumentService) CreateDocument(ctx context.Context, in workflow.CreateInput, caller workflow.CallerIdentity) (*models.Document, error) {
	defer ds.metrics.Since("documents.create", time.Now())

	doc, err := ds.engine.NewDocument(in, caller)
	if err != nil {
		ds.metrics.IncrementCounter("documents.create_rejected", nil)
		return nil, err
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(doc).Error; err != nil {
			return err
		}
		return tx.Create(&doc.SignRequests).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	ds.metrics.IncrementCounter("documents.created", nil)
	ds.logger.Info("Document created",
		zap.String("doc_id", doc.ID),
		zap.String("created_by", doc.CreatedBy),
		zap.Int("signers", len(doc.SignRequests)))
	return doc, nil
}

func (ds *DocumentService) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	var doc models.Document
	err := ds.db.WithContext(ctx).
		Preload("SignRequests", orderedRequests).
		First(&doc, "id = ?", docID).Error
	if err != nil {
		return nil, notFound(err, "document", docID)
	}
	return &doc, nil
}

func (ds *DocumentService) ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = ds.limits.Default
	}
	if limit > ds.limits.Max {
		limit = ds.limits.Max
	}

	q := ds.db.WithContext(ctx).Preload("SignRequests", orderedRequests)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.BatchID != "" {
		q = q.Where("batch_id = ?", filter.BatchID)
	}

	var docs []models.Document
	if err := q.Order("created_at DESC").Limit(limit).Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// loadForUpdate reads a document and its requests while holding the
// document row lock for the rest of tx.
func loadForUpdate(tx *gorm.DB, docID string) (*models.Document, error) {
	var doc models.Document
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, "id = ?", docID).Error; err != nil {
		return nil, notFound(err, "document", docID)
	}
	if err := orderedRequests(tx).Where("document_id = ?", docID).Find(&doc.SignRequests).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// Act applies a sign or reject action and stores the request and the
// re-derived document status atomically. Of two concurrent actions on the
// same request exactly one succeeds; the other fails with ErrInvalidState.
func (ds *DocumentService) Act(ctx context.Context, docID string, in workflow.ActInput) (*models.Document, *models.SignRequest, error) {
	start := time.Now()
	unlock := ds.locks.lock(docID)
	defer unlock()

	var (
		doc *models.Document
		sr  *models.SignRequest
	)
	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		doc, err = loadForUpdate(tx, docID)
		if err != nil {
			return err
		}
		sr, err = ds.engine.Apply(doc, in)
		if err != nil {
			return err
		}

		if err := resolveRequest(tx, sr); err != nil {
			return err
		}
		return tx.Model(&models.Document{}).
			Where("id = ?", doc.ID).
			Updates(map[string]interface{}{
				"status":     doc.Status,
				"updated_at": doc.UpdatedAt,
			}).Error
	})

	ds.metrics.ObserveLatency("sign_requests.act", time.Since(start))
	if err != nil {
		ds.metrics.IncrementCounter("sign_requests.act_failed", map[string]string{"action": string(in.Action)})
		ds.logger.Warn("Sign request action refused",
			zap.String("doc_id", docID),
			zap.String("sign_request_id", in.RequestID),
			zap.String("action", string(in.Action)),
			zap.Error(err))
		return nil, nil, err
	}

	ds.metrics.IncrementCounter("sign_requests.acted", map[string]string{"action": string(in.Action)})
	if workflow.IsTerminal(doc.Status) {
		ds.metrics.IncrementCounter("documents.finished", map[string]string{"status": string(doc.Status)})
	}
	ds.logger.Info("Sign request resolved",
		zap.String("doc_id", doc.ID),
		zap.String("sign_request_id", sr.ID),
		zap.String("request_status", string(sr.Status)),
		zap.String("document_status", string(doc.Status)),
		zap.String("caller_id", in.Caller.ID))
	return doc, sr, nil
}

// resolveRequest writes the outcome of sr only while the stored row is still
// pending. Another process that resolved it first leaves zero rows
// affected, which is reported as ErrInvalidState.
func resolveRequest(tx *gorm.DB, sr *models.SignRequest) error {
	res := tx.Model(&models.SignRequest{}).
		Where("id = ? AND document_id = ? AND status = ?", sr.ID, sr.DocumentID, models.RequestPending).
		Updates(map[string]interface{}{
			"status":           sr.Status,
			"signed_at":        sr.SignedAt,
			"signed_by_ip":     sr.SignedByIP,
			"notes":            sr.Notes,
			"rejection_reason": sr.RejectionReason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: sign request %s already resolved", workflow.ErrInvalidState, sr.ID)
	}
	return nil
}

// SetPlaceholder stores the signature box of one request. Statuses are not
// touched.
func (ds *DocumentService) SetPlaceholder(ctx context.Context, docID, requestID string, p models.Placeholder) (*models.SignRequest, error) {
	if err := workflow.ValidatePlaceholder(p); err != nil {
		return nil, err
	}
	unlock := ds.locks.lock(docID)
	defer unlock()

	var sr *models.SignRequest
	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadForUpdate(tx, docID)
		if err != nil {
			return err
		}
		sr, err = ds.engine.PlacePlaceholder(doc, requestID, p)
		if err != nil {
			return err
		}
		return tx.Model(&models.SignRequest{}).
			Where("id = ? AND document_id = ?", sr.ID, doc.ID).
			Updates(map[string]interface{}{
				"placeholder_page": sr.PlaceholderPage,
				"placeholder_x":    sr.PlaceholderX,
				"placeholder_y":    sr.PlaceholderY,
				"placeholder_w":    sr.PlaceholderW,
				"placeholder_h":    sr.PlaceholderH,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	if p.Overflows() {
		ds.logger.Warn("Placeholder extends past the page edge",
			zap.String("doc_id", docID),
			zap.String("sign_request_id", requestID),
			zap.Int("page", p.Page))
	}
	return sr, nil
}

// ListPendingFor returns the pending requests assigned to caller, oldest
// first. The SQL filter only narrows candidates; workflow.Matches decides.
func (ds *DocumentService) ListPendingFor(ctx context.Context, caller workflow.CallerIdentity) ([]PendingTask, error) {
	var (
		conds []string
		args  []interface{}
	)
	if id := utils.NormalizeKey(caller.ID); id != "" {
		conds = append(conds, "LOWER(TRIM(assigned_to_id)) = ?")
		args = append(args, id)
	}
	if email := utils.NormalizeKey(caller.Email); email != "" {
		conds = append(conds, "LOWER(TRIM(assigned_to_email)) = ?")
		args = append(args, email)
	}
	var (
		names    []string
		nonASCII bool
	)
	for _, n := range []string{caller.FullName, caller.Username} {
		k := utils.NormalizeKey(n)
		switch {
		case k == "":
		case isASCII(k):
			names = append(names, k)
		default:
			nonASCII = true
		}
	}
	if len(names) > 0 {
		conds = append(conds, "LOWER(TRIM(assigned_to_name)) IN ?")
		args = append(args, names)
	}
	// SQLite's LOWER only folds ASCII, so non-ASCII names are compared by
	// Matches alone.
	if nonASCII {
		conds = append(conds, "assigned_to_name <> ''")
	}
	if len(conds) == 0 {
		return []PendingTask{}, nil
	}

	var candidates []models.SignRequest
	err := ds.db.WithContext(ctx).
		Where("status = ?", models.RequestPending).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Order("created_at ASC").
		Order("sign_order ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	mine := make([]models.SignRequest, 0, len(candidates))
	docIDs := make([]string, 0, len(candidates))
	for _, sr := range candidates {
		if workflow.Matches(caller, sr.Assignee()) {
			mine = append(mine, sr)
			docIDs = append(docIDs, sr.DocumentID)
		}
	}
	if len(mine) == 0 {
		return []PendingTask{}, nil
	}

	var docs []models.Document
	if err := ds.db.WithContext(ctx).Where("id IN ?", docIDs).Find(&docs).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	tasks := make([]PendingTask, 0, len(mine))
	for _, sr := range mine {
		d := byID[sr.DocumentID]
		tasks = append(tasks, PendingTask{
			Request:        sr,
			DocumentTitle:  d.Title,
			DocumentStatus: d.Status,
		})
	}
	return tasks, nil
}

// DeleteDocument removes a document together with its sign requests and
// attached file. Authorisation is the caller's responsibility.
func (ds *DocumentService) DeleteDocument(ctx context.Context, docID string) error {
	unlock := ds.locks.lock(docID)
	defer unlock()

	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadForUpdate(tx, docID); err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&models.DocumentFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&models.SignRequest{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", docID).Delete(&models.Document{}).Error
	})
	if err != nil {
		return err
	}

	ds.metrics.IncrementCounter("documents.deleted", nil)
	ds.logger.Info("Document deleted", zap.String("doc_id", docID))
	return nil
}

func (ds *DocumentService) CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	var rows []struct {
		Status models.DocumentStatus
		Count  int64
	}
	if err := ds.db.WithContext(ctx).
		Model(&models.Document{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[models.DocumentStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
