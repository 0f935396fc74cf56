package handlers

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/ops"
)

var mapTimeout = flag.Duration("map_timeout", 10*time.Second, "how long to wait for a remote server to answer a map query")

// MapHandler runs a topology query for the caller and returns every reply
// line once the final one arrives.
func MapHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req api.MapRequest
		if !readJSON(r, &req) {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), *mapTimeout)
		defer cancel()

		uid, lines, done := d.Sessions().Open()
		defer done()

		nick := req.Nick
		if nick == "" {
			nick = "*"
		}
		err := d.Server().Query(ctx, api.Requester{
			UID:    uid,
			Nick:   nick,
			Server: d.Server().Name(),
			Oper:   req.Oper,
		}, req.Target)
		if err != nil {
			writeError(ctx, w, err)
			return
		}

		resp, err := collect(ctx, lines)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, resp)
	}
}

func collect(ctx context.Context, lines <-chan string) (api.MapResponse, error) {
	var resp api.MapResponse
	for {
		select {
		case l := <-lines:
			resp.Lines = append(resp.Lines, l)
			if ops.IsFinal(l) {
				return resp, nil
			}
		case <-ctx.Done():
			return api.MapResponse{}, ctx.Err()
		}
	}
}

func GetTreeHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx := r.Context()
		resp, err := d.Server().Snapshot(ctx)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, resp)
	}
}
