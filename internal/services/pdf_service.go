package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/utils"
	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/metrics"
)

const timeLayout = "2006-01-02 15:04 MST"

// PDFService stores the PDF artifact a document is signed against and
// renders a printable sign-off sheet. The placeholder geometry itself is
// only consumed by PDF viewers.
type PDFService struct {
	db       *gorm.DB
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	maxBytes int64
}

func NewPDFService(db *gorm.DB, logger *zap.Logger, metrics *metrics.MetricsCollector, maxBytes int64) *PDFService {
	return &PDFService{
		db:       db,
		logger:   logger.With(zap.String("service", "pdf_service")),
		metrics:  metrics,
		maxBytes: maxBytes,
	}
}

func (ps *PDFService) MaxBytes() int64 {
	return ps.maxBytes
}

// AttachPDF replaces the document's PDF and flags the document as having
// one.
func (ps *PDFService) AttachPDF(ctx context.Context, docID, filename string, content []byte, uploader workflow.CallerIdentity) (*models.DocumentFile, error) {
	start := time.Now()
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: uploaded file is empty", workflow.ErrValidation)
	}
	if int64(len(content)) > ps.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", workflow.ErrValidation, ps.maxBytes)
	}
	if !utils.LooksLikePDF(content) {
		return nil, fmt.Errorf("%w: only PDF files are allowed", workflow.ErrValidation)
	}

	file := &models.DocumentFile{
		DocumentID:  docID,
		Filename:    filename,
		ContentHash: utils.ContentHash(content),
		Content:     content,
		Size:        int64(len(content)),
		UploadedBy:  uploader.ID,
	}
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&doc, "id = ?", docID).Error; err != nil {
			return notFound(err, "document", docID)
		}
		if err := tx.Where("document_id = ?", docID).Delete(&models.DocumentFile{}).Error; err != nil {
			return err
		}
		if err := tx.Create(file).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Document{}).Where("id = ?", docID).Update("pdf_attached", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: document %s", workflow.ErrNotFound, docID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.metrics.IncrementCounter("documents.pdf_uploaded", nil)
	ps.metrics.ObserveSize("document_pdf_size", float64(file.Size))
	ps.metrics.ObserveLatency("documents.pdf_upload", time.Since(start))
	ps.logger.Info("PDF attached",
		zap.String("doc_id", docID),
		zap.Int64("size", file.Size),
		zap.String("sha256", file.ContentHash))
	return file, nil
}

func (ps *PDFService) GetPDF(ctx context.Context, docID string) (*models.DocumentFile, error) {
	var file models.DocumentFile
	if err := ps.db.WithContext(ctx).First(&file, "document_id = ?", docID).Error; err != nil {
		return nil, notFound(err, "pdf for document", docID)
	}
	return &file, nil
}

// RenderSignoffSheet writes a one-page summary of the workflow: who was
// asked to sign, in which step, and what they did.
func (ps *PDFService) RenderSignoffSheet(doc *models.Document, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor("QMS sign-off", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, tr(doc.Title))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	lines := []string{
		"Document: " + doc.ID,
		"Status: " + statusLabel(string(doc.Status)),
	}
	if doc.BatchNumber != "" || doc.BatchID != "" {
		lines = append(lines, "Batch: "+firstNonEmpty(doc.BatchNumber, doc.BatchID))
	}
	if doc.CreatedByName != "" {
		lines = append(lines, "Created by: "+doc.CreatedByName)
	}
	lines = append(lines, "Created at: "+doc.CreatedAt.UTC().Format(timeLayout))
	for _, l := range lines {
		pdf.Cell(0, 6, tr(l))
		pdf.Ln(6)
	}
	if strings.TrimSpace(doc.Description) != "" {
		pdf.Ln(2)
		pdf.MultiCell(0, 5, tr(doc.Description), "", "L", false)
	}
	pdf.Ln(6)

	widths := []float64{14, 50, 28, 24, 38, 36}
	headers := []string{"Step", "Signer", "Role", "Status", "Date", "Notes"}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, sr := range doc.SignRequests {
		signer := sr.AssignedToName
		if sr.AssignedToEmail != "" {
			signer += " <" + sr.AssignedToEmail + ">"
		}
		date := ""
		if sr.SignedAt != nil {
			date = sr.SignedAt.UTC().Format(timeLayout)
		}
		notes := sr.Notes
		if sr.Status == models.RequestRejected {
			notes = sr.RejectionReason
		}
		cells := []string{
			fmt.Sprintf("%d", sr.SignOrder),
			signer,
			sr.AssignedToRole,
			statusLabel(string(sr.Status)),
			date,
			notes,
		}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 7, tr(truncate(pdf, c, widths[i]-2)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write signoff sheet: %w", err)
	}
	ps.metrics.IncrementCounter("documents.signoff_sheet_rendered", nil)
	return nil
}

func statusLabel(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate shortens s with an ellipsis so it fits in width mm at the
// current font.
func truncate(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
