package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/rollback-manager/server/api"
	"github.com/compose-network/rollback-manager/x/rollback"
)

// CallerHeader carries the authenticated caller address. The service is
// expected to sit behind a proxy that verifies the caller before setting it.
const CallerHeader = "X-Caller-Address"

// Handler exposes the rollback manager over HTTP.
type Handler struct {
	manager rollback.Manager
	log     zerolog.Logger
}

// NewHandler creates a rollback HTTP handler.
func NewHandler(manager rollback.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		log:     log.With().Str("component", "rollback-http").Logger(),
	}
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	caller, batch, ok := h.decodeBatchRequest(w, r)
	if !ok {
		return
	}

	id, err := h.manager.Propose(r.Context(), caller, batch)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, rollbackResponse{ID: id.Hex()})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	caller, batch, ok := h.decodeBatchRequest(w, r)
	if !ok {
		return
	}

	id, err := h.manager.Queue(r.Context(), caller, batch)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, rollbackResponse{ID: id.Hex()})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, batch, ok := h.decodeBatchRequest(w, r)
	if !ok {
		return
	}

	id, err := h.manager.Cancel(r.Context(), caller, batch)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, rollbackResponse{ID: id.Hex()})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller, batch, ok := h.decodeBatchRequest(w, r)
	if !ok {
		return
	}

	id, data, err := h.manager.Execute(r.Context(), caller, batch)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	resp := executeResponse{ID: id.Hex()}
	if len(data) > 0 {
		resp.ReturnData = hexutil.Encode(data)
	}
	apicommon.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRollback(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	idBytes, err := hexutil.Decode(raw)
	if err != nil || len(idBytes) != common.HashLength {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_id", "rollback id must be a 32-byte hex hash", nil)
		return
	}
	id := common.BytesToHash(idBytes)

	rec, st, err := h.manager.RecordOf(r.Context(), id)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, newRecordResponse(id, rec, st))
}

func (h *Handler) handleListRollbacks(w http.ResponseWriter, r *http.Request) {
	ids, err := h.manager.Identifiers(r.Context())
	if err != nil {
		apicommon.WriteError(w, r, http.StatusInternalServerError, "internal", "failed to list rollbacks", nil)
		return
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"ids": out})
}

func (h *Handler) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, rolesResponse{
		Admin:                h.manager.Admin().Hex(),
		Guardian:             h.manager.Guardian().Hex(),
		QueueableDuration:    h.manager.QueueableDuration().String(),
		MinQueueableDuration: h.manager.MinQueueableDuration().String(),
	})
}

func (h *Handler) handleSetAdmin(w http.ResponseWriter, r *http.Request) {
	h.handleSetRole(w, r, h.manager.SetAdmin)
}

func (h *Handler) handleSetGuardian(w http.ResponseWriter, r *http.Request) {
	h.handleSetRole(w, r, h.manager.SetGuardian)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, caller, addr common.Address) error) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()
	var req setAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return
	}
	if !common.IsHexAddress(req.Address) {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_address", "bad address", nil)
		return
	}

	if err := set(r.Context(), caller, common.HexToAddress(req.Address)); err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSetQueueableDuration(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()
	var req setDurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_duration", "duration must be a Go duration string", nil)
		return
	}

	if err := h.manager.SetQueueableDuration(r.Context(), caller, d); err != nil {
		h.writeManagerError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decodeBatchRequest(w http.ResponseWriter, r *http.Request) (common.Address, rollback.Batch, bool) {
	caller, ok := h.callerAddress(w, r)
	if !ok {
		return common.Address{}, rollback.Batch{}, false
	}

	defer r.Body.Close()
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return common.Address{}, rollback.Batch{}, false
	}

	batch, err := req.toBatch()
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_batch", err.Error(), nil)
		return common.Address{}, rollback.Batch{}, false
	}

	return caller, batch, true
}

func (h *Handler) callerAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(raw) {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_caller", "missing or invalid "+CallerHeader+" header", nil)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// writeManagerError maps typed rollback errors onto HTTP statuses. Backend
// failures surface as 502 since the upstream execution channel rejected the
// call.
func (h *Handler) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := rollback.KindOf(err)
	if !ok {
		h.log.Error().Err(err).Msg("backend call failed")
		apicommon.WriteError(w, r, http.StatusBadGateway, "backend_error", err.Error(), nil)
		return
	}

	status := http.StatusBadRequest
	switch kind {
	case rollback.KindUnauthorized:
		status = http.StatusForbidden
	case rollback.KindNonExistentRollback:
		status = http.StatusNotFound
	case rollback.KindAlreadyExists, rollback.KindNotQueueable, rollback.KindNotQueued:
		status = http.StatusConflict
	case rollback.KindExpired:
		status = http.StatusGone
	case rollback.KindExecutionTooEarly:
		status = http.StatusTooEarly
	}

	var details any
	var rbErr *rollback.Error
	if errors.As(err, &rbErr) && rbErr.ID != (common.Hash{}) {
		details = map[string]string{"id": rbErr.ID.Hex()}
	}

	apicommon.WriteError(w, r, status, kind.String(), err.Error(), details)
}
