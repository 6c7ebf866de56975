package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/digkill/msai-studio/internal/service"
)

type runWorkflowRequest struct {
	UserID string `json:"userId"`
	service.GenerationInput
}

type runWorkflowResponse struct {
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result"`
	Cost     int             `json:"cost"`
	Archive  string          `json:"archive"`
	Warnings []string        `json:"warnings,omitempty"`
}

// handleRunWorkflow serves POST /api/run-fal-<slug>. The caller is taken from
// the session; a userId in the body must match it.
func (s *Server) handleRunWorkflow(slug string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runWorkflowRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		userID := userIDFrom(r.Context())
		if req.UserID != "" && req.UserID != userID {
			writeError(w, http.StatusForbidden, "userId does not match session")
			return
		}

		res, err := s.svc.Generations.Run(r.Context(), userID, slug, req.GenerationInput)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, runWorkflowResponse{
			Success:  true,
			Result:   res.Result,
			Cost:     res.Cost,
			Archive:  res.Archive,
			Warnings: res.Warnings,
		})
	}
}

// handlePoll relays GET /api/poll?url= to an allowed provider host.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	resp, err := s.svc.Relay.Relay(r.Context(), target)
	if err != nil {
		if statusFor(err) == http.StatusBadRequest {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Warn().Err(err).Msg("poll relay failed")
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
