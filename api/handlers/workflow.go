package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow"
	"github.com/BaSui01/siteflow/types"
)

// WorkflowHandler serves workflow execution and page indexing.
type WorkflowHandler struct {
	engine *siteflow.Engine
	logger *zap.Logger
}

// NewWorkflowHandler creates the handler.
func NewWorkflowHandler(engine *siteflow.Engine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{engine: engine, logger: logger.With(zap.String("component", "workflow_handler"))}
}

type runWorkflowRequest struct {
	UserID      string               `json:"user_id"`
	PageType    string               `json:"page_type,omitempty"`
	StopOnError bool                 `json:"stop_on_error,omitempty"`
	Steps       []types.WorkflowStep `json:"steps"`
}

// HandleRun executes a step list for one user.
//
//	POST /api/v1/workflows
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runWorkflowRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.UserID == "" {
		WriteError(w, types.NewError(types.ErrInvalidStep, "user_id is required"), h.logger)
		return
	}
	if len(req.Steps) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidStep, "steps must not be empty"), h.logger)
		return
	}

	result, err := h.engine.RunWorkflow(r.Context(), req.UserID, siteflow.WorkflowRequest{
		Steps:       req.Steps,
		PageType:    req.PageType,
		StopOnError: req.StopOnError,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

type indexPageRequest struct {
	UserID string `json:"user_id"`
}

// HandleIndex scans the user's current page and returns the indexed
// elements.
//
//	POST /api/v1/index
func (h *WorkflowHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexPageRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.UserID == "" {
		WriteError(w, types.NewError(types.ErrInvalidStep, "user_id is required"), h.logger)
		return
	}
	refs, err := h.engine.IndexPage(r.Context(), req.UserID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, refs)
}
