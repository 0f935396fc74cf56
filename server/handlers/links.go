package handlers

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/ops/topology"
)

func LinkHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.LinkRequest
		if !readJSON(r, &req) || req.Name == "" {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		parent := req.Parent
		if parent == "" {
			parent = d.Server().Name()
		}
		ctx := r.Context()
		err := d.Server().Link(ctx, parent, topology.NodeInfo{
			Name:   req.Name,
			ID:     req.ID,
			Users:  req.Users,
			Hidden: req.Hidden,
		}, time.Duration(req.LagMs)*time.Millisecond)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, api.Ack{})
	}
}

func UnlinkHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.UnlinkRequest
		if !readJSON(r, &req) {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		lost, err := d.Server().Unlink(ctx, req.Name)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, api.UnlinkResponse{Lost: lost})
	}
}

func SetLagHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.LagRequest
		if !readJSON(r, &req) || req.Name == "" || req.LagMs < 0 {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		err := d.Server().SetRTT(ctx, req.Name, time.Duration(req.LagMs)*time.Millisecond)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, api.Ack{})
	}
}

func SubmitUsersHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.SubmitUsers
		if !readJSON(r, &req) {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		err := d.Server().AddUsers(ctx, req.Counts...)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, api.Ack{})
	}
}
