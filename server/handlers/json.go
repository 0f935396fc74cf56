package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/server/ops"
	"github.com/luno/spantree/server/ops/topology"
)

func readJSON(r *http.Request, v any) bool {
	if r.Header.Get("Content-Type") != "application/json" {
		return false
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error(ctx, errors.Wrap(err, "json marshal"))
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	if err != nil {
		log.Error(ctx, err)
	}
}

// writeError maps tree errors to client errors and logs anything else.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.IsAny(err, topology.ErrUnknownServer, topology.ErrUnknownParent):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.IsAny(err, topology.ErrServerExists, topology.ErrDuplicateID):
		http.Error(w, "Conflict", http.StatusConflict)
	case errors.IsAny(err, topology.ErrInvalidID, topology.ErrRootDetach, ops.ErrUnknownCommand):
		http.Error(w, "Bad Request", http.StatusBadRequest)
	case errors.IsAny(err, context.DeadlineExceeded):
		http.Error(w, "Gateway Timeout", http.StatusGatewayTimeout)
	default:
		log.Error(ctx, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
	}
}
