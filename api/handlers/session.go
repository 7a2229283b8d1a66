package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow"
	"github.com/BaSui01/siteflow/types"
)

// SessionHandler serves session pool inspection and teardown.
type SessionHandler struct {
	engine *siteflow.Engine
	logger *zap.Logger
}

// NewSessionHandler creates the handler.
func NewSessionHandler(engine *siteflow.Engine, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{engine: engine, logger: logger.With(zap.String("component", "session_handler"))}
}

// HandleList returns the pool snapshot, most recently active first.
//
//	GET /api/v1/sessions
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.Sessions().ListSessions())
}

// HandleClose releases one user's session. Deleting a user with no live
// session is not an error.
//
//	DELETE /api/v1/sessions/{user}
func (h *SessionHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if user == "" {
		WriteError(w, types.NewError(types.ErrInvalidStep, "user is required"), h.logger)
		return
	}
	closed := h.engine.CloseSession(user)
	WriteSuccess(w, map[string]any{"user": user, "closed": closed})
}
