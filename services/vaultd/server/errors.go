package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"strategyvaults/native/liquidator"
	"strategyvaults/native/vault"
	"strategyvaults/services/vaultd/sandbox"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// toStatus maps an operation error onto an HTTP status and the kind label
// reported to the client.
func toStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "malformed"
	case errors.Is(err, sandbox.ErrUnknownVault),
		errors.Is(err, sandbox.ErrUnknownToken),
		errors.Is(err, sandbox.ErrUnknownPool),
		errors.Is(err, vault.ErrAccountNotFound),
		errors.Is(err, vault.ErrMaturityNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, sandbox.ErrNoFlashLender):
		return http.StatusConflict, "configuration"
	case errors.Is(err, liquidator.ErrUnprofitable):
		return http.StatusUnprocessableEntity, "economic"
	case errors.Is(err, liquidator.ErrFlashLoanLiquidity):
		return http.StatusBadGateway, "external"
	}
	kind := vault.KindOf(err)
	switch kind {
	case vault.KindAuthorization:
		return http.StatusForbidden, kind.String()
	case vault.KindPrecondition, vault.KindConfiguration:
		return http.StatusConflict, kind.String()
	case vault.KindEconomic:
		return http.StatusUnprocessableEntity, kind.String()
	case vault.KindExternal:
		return http.StatusBadGateway, kind.String()
	case vault.KindMalformed:
		return http.StatusBadRequest, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := toStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("component", "vaultd"),
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}
