package handlers

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow"
	"github.com/BaSui01/siteflow/types"
)

// maxImportBytes bounds a pattern import payload.
const maxImportBytes = 8 << 20

// PatternHandler serves learned-pattern inspection, export, and import.
type PatternHandler struct {
	engine *siteflow.Engine
	logger *zap.Logger
}

// NewPatternHandler creates the handler.
func NewPatternHandler(engine *siteflow.Engine, logger *zap.Logger) *PatternHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternHandler{engine: engine, logger: logger.With(zap.String("component", "pattern_handler"))}
}

// HandleList returns patterns, optionally filtered by the domain query
// parameter.
//
//	GET /api/v1/patterns?domain=shop.example.com
func (h *PatternHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.engine.Patterns().List(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, patterns)
}

// HandleGet returns one pattern.
//
//	GET /api/v1/patterns/{domain}/{page_type}
func (h *PatternHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Patterns().Get(r.Context(), r.PathValue("domain"), r.PathValue("page_type"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, p)
}

// HandleDelete removes one pattern.
//
//	DELETE /api/v1/patterns/{domain}/{page_type}
func (h *PatternHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	domain, pageType := r.PathValue("domain"), r.PathValue("page_type")
	if err := h.engine.Patterns().Delete(r.Context(), domain, pageType); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"domain": domain, "page_type": pageType})
}

// HandleExport streams every pattern as a JSON array.
//
//	GET /api/v1/patterns/export
func (h *PatternHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.engine.Patterns().Export(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleImport merges an exported pattern array into the store.
//
//	POST /api/v1/patterns/import
func (h *PatternHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidStep, "unreadable request body").WithCause(err), h.logger)
		return
	}
	count, err := h.engine.Patterns().Import(r.Context(), data)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]int{"imported": count})
}
