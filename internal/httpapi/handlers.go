package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/docstore"
	"github.com/fyrsmithlabs/answerd/internal/generation"
	"github.com/fyrsmithlabs/answerd/internal/pipeline"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

// httpError maps pipeline and store sentinels onto HTTP status codes.
// Unrecognized errors are logged and returned as an opaque 500.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrQuestionBlocked):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "question rejected")
	case errors.Is(err, pipeline.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, "document has no usable content")
	case errors.Is(err, docstore.ErrDocumentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	case errors.Is(err, docstore.ErrLogNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "qa log not found")
	case errors.Is(err, tenant.ErrTenantNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
	case errors.Is(err, tenant.ErrSlugTaken):
		return echo.NewHTTPError(http.StatusConflict, "tenant slug already exists")
	case errors.Is(err, tenant.ErrInvalidSlug):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant slug")
	default:
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// UploadRequest is the request body for POST /api/v1/documents.
type UploadRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleUpload(c echo.Context) error {
	var req UploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	doc, err := s.engine.Ingest(c.Request().Context(), bundleFrom(c), req.Title, req.Content)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

// DocumentsResponse is the response body for GET /api/v1/documents.
type DocumentsResponse struct {
	Documents []docstore.Document `json:"documents"`
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.engine.Documents(c.Request().Context(), bundleFrom(c))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: docs})
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.engine.Document(c.Request().Context(), bundleFrom(c), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.engine.DeleteDocument(c.Request().Context(), bundleFrom(c), c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AskRequest is the request body for POST /api/v1/ask.
type AskRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream,omitempty"`
}

// AskResponse is the non-streaming response body for POST /api/v1/ask.
type AskResponse struct {
	Answer     string                `json:"answer"`
	Citations  []generation.Citation `json:"citations,omitempty"`
	Confidence float64               `json:"confidence"`
	Fallback   bool                  `json:"fallback"`
	Cached     bool                  `json:"cached"`
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	if req.Stream || c.Request().Header.Get("Accept") == "text/event-stream" {
		return s.streamAsk(c, req.Question)
	}

	res, err := s.engine.Ask(c.Request().Context(), bundleFrom(c), req.Question)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, AskResponse{
		Answer:     res.Answer.Text,
		Citations:  res.Answer.Citations,
		Confidence: res.Answer.Confidence,
		Fallback:   res.Answer.Fallback,
		Cached:     res.Cached,
	})
}

// streamAsk delivers the answer as server-sent events: state, delta,
// and exactly one terminal answer or error event.
func (s *Server) streamAsk(c echo.Context, question string) error {
	events, err := s.engine.AskStream(c.Request().Context(), bundleFrom(c), question)
	if err != nil {
		return s.httpError(c, err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeSSE(w, "error", map[string]string{"error": publicError(ev.Err)})
		case ev.Answer != nil:
			writeSSE(w, "answer", AskResponse{
				Answer:     ev.Answer.Text,
				Citations:  ev.Answer.Citations,
				Confidence: ev.Answer.Confidence,
				Fallback:   ev.Answer.Fallback,
				Cached:     pipeline.IsCached(ev),
			})
		case ev.Delta != "":
			writeSSE(w, "delta", map[string]string{"text": ev.Delta})
		default:
			writeSSE(w, "state", map[string]string{"state": string(ev.State)})
		}
		w.Flush()
	}
	return nil
}

func writeSSE(w *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// publicError keeps upstream detail out of client-visible errors.
func publicError(err error) string {
	if errors.Is(err, generation.ErrGenerationFailed) {
		return "generation failed"
	}
	return "internal error"
}

// QALogsResponse is the response body for GET /api/v1/qalogs.
type QALogsResponse struct {
	Logs []docstore.QALog `json:"logs"`
}

func (s *Server) handleListQALogs(c echo.Context) error {
	flaggedOnly := c.QueryParam("flagged") == "true"
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	logs, err := s.engine.QALogs(c.Request().Context(), bundleFrom(c), flaggedOnly, limit)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, QALogsResponse{Logs: logs})
}

func (s *Server) handleFlagQALog(c echo.Context) error {
	if err := s.engine.FlagQALog(c.Request().Context(), bundleFrom(c), c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReviewRequest is the request body for POST /api/v1/qalogs/:id/review.
type ReviewRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleReviewQALog(c echo.Context) error {
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.engine.ReviewQALog(c.Request().Context(), bundleFrom(c), c.Param("id"), req.Note); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateTenantRequest is the request body for POST /admin/v1/tenants.
type CreateTenantRequest struct {
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	APIKey      string             `json:"api_key"`
	Credentials tenant.Credentials `json:"credentials"`
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	var req CreateTenantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Slug == "" || req.APIKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "slug and api_key fields are required")
	}

	t, err := s.tenants.Create(c.Request().Context(), req.Name, req.Slug, req.APIKey, req.Credentials)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// TenantsResponse is the response body for GET /admin/v1/tenants.
type TenantsResponse struct {
	Tenants []tenant.Tenant `json:"tenants"`
}

func (s *Server) handleListTenants(c echo.Context) error {
	tenants, err := s.tenants.List(c.Request().Context())
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, TenantsResponse{Tenants: tenants})
}

func (s *Server) handleUpdateCredentials(c echo.Context) error {
	var creds tenant.Credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.tenants.UpdateCredentials(c.Request().Context(), c.Param("slug"), creds); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteTenant(c echo.Context) error {
	if err := s.tenants.Delete(c.Request().Context(), c.Param("slug")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
