package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appanalysis "github.com/medaudit/medaudit-backend/internal/application/analysis"
	appdocs "github.com/medaudit/medaudit-backend/internal/application/documents"
	appreports "github.com/medaudit/medaudit-backend/internal/application/reports"
	docdomain "github.com/medaudit/medaudit-backend/internal/domain/documents"
	repdomain "github.com/medaudit/medaudit-backend/internal/domain/reports"
	"github.com/medaudit/medaudit-backend/internal/middleware"
)

type Router struct {
	docsSvc     *appdocs.Service
	reportsSvc  *appreports.Service
	analysisSvc *appanalysis.Service

	maxUploadSize int64
	allowedTypes  []string
}

func NewRouter(docsSvc *appdocs.Service, reportsSvc *appreports.Service, analysisSvc *appanalysis.Service, maxUploadSize int64, allowedTypes []string) http.Handler {
	r := &Router{
		docsSvc:       docsSvc,
		reportsSvc:    reportsSvc,
		analysisSvc:   analysisSvc,
		maxUploadSize: maxUploadSize,
		allowedTypes:  allowedTypes,
	}
	mux := chi.NewRouter()

	mux.Route("/api/v1", func(rt chi.Router) {
		rt.Post("/documents", r.wrap(r.handleUploadDocument))
		rt.Get("/documents", r.wrap(r.handleListDocuments))
		rt.Get("/documents/{id}", r.wrap(r.handleGetDocument))
		rt.Get("/documents/{id}/download", r.wrap(r.handleDownloadDocument))
		rt.Delete("/documents/{id}", r.wrap(r.handleDeleteDocument))

		rt.Post("/reports/generate", r.wrap(r.handleGenerateReport))
		rt.Get("/reports", r.wrap(r.handleListReports))
		rt.Get("/reports/{id}", r.wrap(r.handleGetReport))
		rt.Get("/reports/{id}/violations", r.wrap(r.handleReportViolations))
		rt.Get("/reports/{id}/export", r.wrap(r.handleExportReport))
		rt.Post("/reports/{id}/invalidate-cache", r.wrap(r.handleInvalidateCache))

		rt.Post("/nlp/callback", r.wrap(r.handleNLPCallback))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps domain errors onto HTTP statuses in one place.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		switch {
		case errors.Is(err, docdomain.ErrNotFound),
			errors.Is(err, repdomain.ErrNotFound),
			errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, docdomain.ErrDuplicateHash),
			errors.Is(err, repdomain.ErrActiveReportExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, repdomain.ErrDocumentMismatch),
			errors.Is(err, repdomain.ErrNotCompleted):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			var be badRequestError
			if errors.As(err, &be) {
				writeError(w, http.StatusBadRequest, be.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// badRequestError tags handler-level validation failures for wrap.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

//
// ==== DOCUMENTS ====
//

// POST /api/v1/documents (multipart: file)
func (r *Router) handleUploadDocument(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())

	req.Body = http.MaxBytesReader(w, req.Body, r.maxUploadSize+1024)
	if err := req.ParseMultipartForm(r.maxUploadSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return nil
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		return badRequest("missing file field")
	}
	defer file.Close()

	if err := middleware.ValidateFilename(header.Filename); err != nil {
		return badRequest("%v", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if err := middleware.ValidateMimeType(mimeType, r.allowedTypes); err != nil {
		return badRequest("%v", err)
	}
	if header.Size > r.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return nil
	}
	if err := middleware.ValidateFileSize(header.Size, r.maxUploadSize); err != nil {
		return badRequest("%v", err)
	}

	doc, err := r.docsSvc.Upload(req.Context(), appdocs.UploadCommand{
		UserID:           userID,
		OriginalFilename: header.Filename,
		MimeType:         mimeType,
		Size:             header.Size,
		Content:          file,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, doc)
}

// GET /api/v1/documents?status=&mime_type=&page=&page_size=
func (r *Router) handleListDocuments(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	q := req.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	f := docdomain.Filter{
		Status:   q.Get("status"),
		MimeType: q.Get("mime_type"),
		Page:     middleware.ValidatePage(page),
		PageSize: middleware.ValidatePageSize(size),
		OrderBy:  q.Get("order_by"),
		OrderDir: q.Get("order_direction"),
	}

	docs, total, err := r.docsSvc.List(req.Context(), userID, f)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"items":     docs,
		"total":     total,
		"page":      f.Page,
		"page_size": f.PageSize,
	})
}

// GET /api/v1/documents/{id}
func (r *Router) handleGetDocument(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	doc, err := r.docsSvc.Get(req.Context(), userID, docdomain.DocumentID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, doc)
}

// GET /api/v1/documents/{id}/download → redirect to presigned URL
func (r *Router) handleDownloadDocument(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	url, err := r.docsSvc.DownloadURL(req.Context(), userID, docdomain.DocumentID(id))
	if err != nil {
		return err
	}
	http.Redirect(w, req, url, http.StatusTemporaryRedirect)
	return nil
}

// DELETE /api/v1/documents/{id}
func (r *Router) handleDeleteDocument(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	if err := r.docsSvc.Delete(req.Context(), userID, docdomain.DocumentID(id)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

//
// ==== REPORTS ====
//

// POST /api/v1/reports/generate
// Body: {"document_id": "<uuid>"}
// Returns 201 immediately with the PENDING report; dispatch happens async.
func (r *Router) handleGenerateReport(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())

	var body struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("invalid request body")
	}
	if err := middleware.ValidateUUID(body.DocumentID); err != nil {
		return badRequest("%v", err)
	}

	rep, err := r.analysisSvc.StartAnalysis(req.Context(), userID, docdomain.DocumentID(body.DocumentID))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]any{
		"id":          rep.ID,
		"document_id": rep.DocumentID,
		"status":      rep.Status,
		"message":     "document analysis started",
	})
}

// GET /api/v1/reports?...
func (r *Router) handleListReports(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	q := req.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	f := repdomain.Filter{
		Status:     q.Get("status"),
		DocumentID: q.Get("document_id"),
		RiskLevel:  q.Get("risk_level"),
		Page:       middleware.ValidatePage(page),
		PageSize:   middleware.ValidatePageSize(size),
		OrderBy:    q.Get("order_by"),
		OrderDir:   q.Get("order_direction"),
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest("invalid date_from")
		}
		f.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest("invalid date_to")
		}
		f.DateTo = &t
	}

	list, err := r.reportsSvc.List(req.Context(), userID, f)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /api/v1/reports/{id}
func (r *Router) handleGetReport(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	rep, err := r.reportsSvc.Get(req.Context(), userID, repdomain.ReportID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rep)
}

// GET /api/v1/reports/{id}/violations?risk_level=&order_by=&order_direction=
func (r *Router) handleReportViolations(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}
	q := req.URL.Query()

	vs, err := r.reportsSvc.Violations(req.Context(), userID, repdomain.ReportID(id), repdomain.ViolationFilter{
		RiskLevel: q.Get("risk_level"),
		OrderBy:   q.Get("order_by"),
		OrderDir:  q.Get("order_direction"),
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, vs)
}

// GET /api/v1/reports/{id}/export → PDF download
func (r *Router) handleExportReport(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	data, filename, err := r.reportsSvc.ExportPDF(req.Context(), userID, repdomain.ReportID(id))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)
	return err
}

// POST /api/v1/reports/{id}/invalidate-cache
func (r *Router) handleInvalidateCache(w http.ResponseWriter, req *http.Request) error {
	userID := middleware.GetUserFromContext(req.Context())
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateUUID(id); err != nil {
		return badRequest("%v", err)
	}

	if err := r.reportsSvc.InvalidateCache(req.Context(), userID, repdomain.ReportID(id)); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"message": "cache invalidated"})
}

//
// ==== NLP CALLBACK ====
//

// POST /api/v1/nlp/callback
// The analyzer may redeliver; replays of terminal reports return 200.
func (r *Router) handleNLPCallback(w http.ResponseWriter, req *http.Request) error {
	var cb appanalysis.Callback
	if err := json.NewDecoder(req.Body).Decode(&cb); err != nil {
		return badRequest("invalid callback body")
	}
	if err := middleware.ValidateUUID(cb.RequestID); err != nil {
		return badRequest("invalid request_id")
	}
	if err := middleware.ValidateUUID(cb.DocumentID); err != nil {
		return badRequest("invalid document_id")
	}

	replayed, err := r.analysisSvc.HandleCallback(req.Context(), cb)
	if err != nil {
		return err
	}
	msg := "callback processed"
	if replayed {
		msg = "already processed"
	}
	return writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}
