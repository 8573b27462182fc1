package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux attaches the rollback routes to an existing router.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc("/v1/rollbacks", h.handlePropose).Methods(http.MethodPost)
	r.HandleFunc("/v1/rollbacks", h.handleListRollbacks).Methods(http.MethodGet)
	r.HandleFunc("/v1/rollbacks/queue", h.handleQueue).Methods(http.MethodPost)
	r.HandleFunc("/v1/rollbacks/cancel", h.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/v1/rollbacks/execute", h.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/v1/rollbacks/{id}", h.handleGetRollback).Methods(http.MethodGet)

	r.HandleFunc("/v1/roles", h.handleGetRoles).Methods(http.MethodGet)
	r.HandleFunc("/v1/roles/admin", h.handleSetAdmin).Methods(http.MethodPut)
	r.HandleFunc("/v1/roles/guardian", h.handleSetGuardian).Methods(http.MethodPut)
	r.HandleFunc("/v1/policy/queueable-duration", h.handleSetQueueableDuration).Methods(http.MethodPut)
}
