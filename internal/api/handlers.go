package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/harmonizer"
	"github.com/ringside/backend/internal/pipeline"
	"github.com/ringside/backend/internal/rounds"
	"github.com/ringside/backend/internal/webhooks"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps pipeline errors onto HTTP statuses. Rejections are
// expected traffic and get a structured body rather than a bare string.
func writeError(w http.ResponseWriter, err error) {
	var herr *harmonizer.Error
	var rej *pipeline.Rejection

	switch {
	case errors.Is(err, rounds.ErrRoundNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, rounds.ErrRoundLocked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, rounds.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	case errors.As(err, &herr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "event rejected", "code": herr.Code, "detail": herr.Detail,
		})
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "event rejected", "code": rej.Reason, "detail": rej.Detail,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// sourceHint resolves the ?source= query parameter. Judge tablets tag
// their traffic; everything untagged is treated as a CV feed.
func sourceHint(r *http.Request) core.Source {
	switch strings.ToLower(r.URL.Query().Get("source")) {
	case "judge":
		return core.SourceJudge
	case "analytics":
		return core.SourceAnalytics
	default:
		return core.SourceCV
	}
}

// Round lifecycle

func (s *Server) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	boutID := mux.Vars(r)["bout_id"]

	var req struct {
		RoundNum int `json:"round_num"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.RoundNum <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "round_num must be positive"})
		return
	}

	st, err := s.manager.OpenRound(r.Context(), boutID, req.RoundNum, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	boutID := mux.Vars(r)["bout_id"]

	sts, err := s.store.ListByBout(r.Context(), boutID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bout_id": boutID,
		"count":   len(sts),
		"rounds":  sts,
	})
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.GetRound(r.Context(), mux.Vars(r)["round_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	roundID := mux.Vars(r)["round_id"]

	var raw harmonizer.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ev, err := s.manager.AppendEvent(r.Context(), roundID, raw, sourceHint(r), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleAppendBatch(w http.ResponseWriter, r *http.Request) {
	roundID := mux.Vars(r)["round_id"]

	var req struct {
		Events []harmonizer.RawEvent `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	admitted, rejected, err := s.manager.AppendBatch(r.Context(), roundID, req.Events, sourceHint(r), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	rejections := make([]string, 0, len(rejected))
	for _, rerr := range rejected {
		rejections = append(rejections, rerr.Error())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admitted":   admitted,
		"rejections": rejections,
	})
}

func (s *Server) handleMomentum(w http.ResponseWriter, r *http.Request) {
	roundID := mux.Vars(r)["round_id"]

	var req struct {
		Corner string `json:"corner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	corner := core.Corner(strings.ToUpper(req.Corner))
	if corner != core.CornerRed && corner != core.CornerBlue {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corner must be RED or BLUE"})
		return
	}

	swings, err := s.manager.SynthesizeMomentum(r.Context(), roundID, corner, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(swings),
		"swings": swings,
	})
}

func (s *Server) handleComputeScore(w http.ResponseWriter, r *http.Request) {
	verdict, err := s.manager.ComputeScore(r.Context(), mux.Vars(r)["round_id"], actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleLockRound(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.LockRound(r.Context(), mux.Vars(r)["round_id"], actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Refused {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.ValidatePreview(r.Context(), mux.Vars(r)["round_id"], actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.PipelineStats(mux.Vars(r)["round_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVerifyRound(w http.ResponseWriter, r *http.Request) {
	roundID := mux.Vars(r)["round_id"]
	if err := s.manager.VerifyRound(r.Context(), roundID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"round_id": roundID,
		"verified": true,
	})
}

// Audit trail

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.auditLog.ExportBundle(r.Context(), mux.Vars(r)["bout_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	boutID := mux.Vars(r)["bout_id"]
	if err := s.auditLog.VerifyBout(r.Context(), boutID); err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"bout_id":  boutID,
			"verified": false,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bout_id":  boutID,
		"verified": true,
	})
}

// Calibration

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Snapshot())
}

func (s *Server) handleUpdateCalibration(w http.ResponseWriter, r *http.Request) {
	var req config.Calibration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	updated, err := s.coordinator.Update(r.Context(), actorFrom(r), func(c *config.Calibration) {
		c.KDThreshold = req.KDThreshold
		c.RockedThreshold = req.RockedThreshold
		c.HighImpactStrikeThreshold = req.HighImpactStrikeThreshold
		c.MomentumSwingWindowMS = req.MomentumSwingWindowMS
		c.MulticamMergeWindowMS = req.MulticamMergeWindowMS
		c.ConfidenceThreshold = req.ConfidenceThreshold
		c.DeduplicationWindowMS = req.DeduplicationWindowMS
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Webhook management

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "webhooks are disabled"})
		return
	}

	var sub webhooks.WebhookSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.webhooks.Register(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "webhooks are disabled"})
		return
	}
	hooks := s.webhooks.ListAll()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(hooks),
		"webhooks": hooks,
	})
}

func (s *Server) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "webhooks are disabled"})
		return
	}
	if err := s.webhooks.Unregister(mux.Vars(r)["id"]); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
