package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qms-platform/signoff/internal/api/middleware"
	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/services"
	"github.com/qms-platform/signoff/internal/workflow"
)

type DocumentHandler struct {
	documentService *services.DocumentService
	pdfService      *services.PDFService
	logger          *zap.Logger
}

// signerRequest accepts both the short field names and the assigned_to_*
// names used in responses.
type signerRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	AssignedToID    string `json:"assigned_to_id"`
	AssignedToName  string `json:"assigned_to_name"`
	AssignedToEmail string `json:"assigned_to_email"`
	AssignedToRole  string `json:"assigned_to_role"`
}

func (s signerRequest) toInput() workflow.SignerInput {
	return workflow.SignerInput{
		ID:    pick(s.AssignedToID, s.ID),
		Name:  pick(s.AssignedToName, s.Name),
		Email: pick(s.AssignedToEmail, s.Email),
		Role:  pick(s.AssignedToRole, s.Role),
	}
}

type createDocumentRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	BatchID     string          `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Signers     []signerRequest `json:"signers"`
}

type actRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

type placeholderRequest struct {
	Page  *int     `json:"page"`
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	W     *float64 `json:"w"`
	H     *float64 `json:"h"`
	PPage *int     `json:"placeholder_page"`
	PX    *float64 `json:"placeholder_x"`
	PY    *float64 `json:"placeholder_y"`
	PW    *float64 `json:"placeholder_w"`
	PH    *float64 `json:"placeholder_h"`
}

func (p placeholderRequest) toPlaceholder() (models.Placeholder, error) {
	page := p.Page
	if page == nil {
		page = p.PPage
	}
	coords := []struct {
		name  string
		short *float64
		long  *float64
	}{
		{"x", p.X, p.PX},
		{"y", p.Y, p.PY},
		{"w", p.W, p.PW},
		{"h", p.H, p.PH},
	}
	if page == nil {
		return models.Placeholder{}, fmt.Errorf("%w: placeholder page is required", workflow.ErrValidation)
	}
	values := make([]float64, len(coords))
	for i, c := range coords {
		v := c.short
		if v == nil {
			v = c.long
		}
		if v == nil {
			return models.Placeholder{}, fmt.Errorf("%w: placeholder %s is required", workflow.ErrValidation, c.name)
		}
		values[i] = *v
	}
	return models.Placeholder{Page: *page, X: values[0], Y: values[1], W: values[2], H: values[3]}, nil
}

func NewDocumentHandler(
	documentService *services.DocumentService,
	pdfService *services.PDFService,
	logger *zap.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		pdfService:      pdfService,
		logger:          logger.With(zap.String("handler", "document")),
	}
}

func (h *DocumentHandler) caller(c *gin.Context) (workflow.CallerIdentity, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
	}
	return caller, ok
}

func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	filter := services.DocumentFilter{
		Status:  models.DocumentStatus(strings.TrimSpace(c.Query("status"))),
		BatchID: strings.TrimSpace(c.Query("batch_id")),
	}
	switch filter.Status {
	case "", models.StatusDraft, models.StatusInProgress, models.StatusComplete, models.StatusRejected:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	docs, err := h.documentService.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "List documents failed", err)
		return
	}
	out := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out, "count": len(out)})
}

func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	in := workflow.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		BatchID:     req.BatchID,
		BatchNumber: req.BatchNumber,
		Signers:     make([]workflow.SignerInput, 0, len(req.Signers)),
	}
	for _, s := range req.Signers {
		in.Signers = append(in.Signers, s.toInput())
	}

	doc, err := h.documentService.CreateDocument(c.Request.Context(), in, caller)
	if err != nil {
		respondError(c, h.logger, "Create document failed", err)
		return
	}
	c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.documentService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Get document failed", err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	if err := h.documentService.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, "Delete document failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) SignRequest(c *gin.Context) {
	h.act(c, workflow.ActionSign)
}

func (h *DocumentHandler) RejectRequest(c *gin.Context) {
	h.act(c, workflow.ActionReject)
}

func (h *DocumentHandler) act(c *gin.Context, action workflow.Action) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	// The body is optional.
	var req actRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	notes := req.Notes
	if action == workflow.ActionReject && strings.TrimSpace(req.Reason) != "" {
		notes = req.Reason
	}

	doc, _, err := h.documentService.Act(c.Request.Context(), c.Param("id"), workflow.ActInput{
		RequestID: c.Param("rid"),
		Caller:    caller,
		Action:    action,
		Notes:     notes,
		ClientIP:  c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, "Sign request action failed", err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) SetPlaceholder(c *gin.Context) {
	var req placeholderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	p, err := req.toPlaceholder()
	if err != nil {
		respondError(c, h.logger, "Set placeholder failed", err)
		return
	}

	sr, err := h.documentService.SetPlaceholder(c.Request.Context(), c.Param("id"), c.Param("rid"), p)
	if err != nil {
		respondError(c, h.logger, "Set placeholder failed", err)
		return
	}
	resp := gin.H{"sign_request": toSignRequestResponse(*sr)}
	if p.Overflows() {
		resp["warning"] = "placeholder extends past the page edge"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandler) MyTasks(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	tasks, err := h.documentService.ListPendingFor(c.Request.Context(), caller)
	if err != nil {
		respondError(c, h.logger, "List tasks failed", err)
		return
	}
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out, "count": len(out)})
}

func (h *DocumentHandler) UploadPDF(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Please choose a file to upload"})
		return
	}
	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".pdf" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are allowed"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, h.logger, "Open uploaded file failed", err)
		return
	}
	defer f.Close()

	// One byte past the limit so the service can report oversize uploads.
	content, err := io.ReadAll(io.LimitReader(f, h.pdfService.MaxBytes()+1))
	if err != nil {
		respondError(c, h.logger, "Read uploaded file failed", err)
		return
	}

	file, err := h.pdfService.AttachPDF(c.Request.Context(), c.Param("id"), filepath.Base(fileHeader.Filename), content, caller)
	if err != nil {
		respondError(c, h.logger, "Attach PDF failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": file.DocumentID,
		"filename":    file.Filename,
		"size":        file.Size,
		"sha256":      file.ContentHash,
	})
}

func (h *DocumentHandler) DownloadPDF(c *gin.Context) {
	file, err := h.pdfService.GetPDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Download PDF failed", err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, "application/pdf", file.Content)
}

func (h *DocumentHandler) SignoffSheet(c *gin.Context) {
	doc, err := h.documentService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Sign-off sheet failed", err)
		return
	}
	var buf bytes.Buffer
	if err := h.pdfService.RenderSignoffSheet(doc, &buf); err != nil {
		respondError(c, h.logger, "Render sign-off sheet failed", err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="`+doc.ID+`-signoff.pdf"`)
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *DocumentHandler) Stats(c *gin.Context) {
	counts, err := h.documentService.CountByStatus(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Document stats failed", err)
		return
	}
	out := make(map[string]int64, len(counts))
	var total int64
	for status, n := range counts {
		out[string(status)] = n
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"by_status": out, "total": total})
}

func pick(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
