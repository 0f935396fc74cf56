package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router interface {
	GET(path string, handle httprouter.Handle)
	POST(path string, handle httprouter.Handle)
}

type subRouter struct {
	r    Router
	base string
}

func SubRouter(r Router, basePath string) Router {
	return subRouter{r: r, base: basePath}
}

func (r subRouter) GET(path string, handle httprouter.Handle) {
	p := r.base + path
	r.r.GET(p, wrap(p, handle))
}

func (r subRouter) POST(path string, handle httprouter.Handle) {
	p := r.base + path
	r.r.POST(p, wrap(p, handle))
}

func wrap(path string, handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		t0 := time.Now()
		handle(w, r, p)
		httpHandle.WithLabelValues(path).Observe(time.Since(t0).Seconds())
	}
}

func CreateRouter(d Deps) *httprouter.Router {
	r := httprouter.New()
	st := SubRouter(r, "/spantree")

	st.POST("/api/map", MapHandler(d))
	st.POST("/api/link", LinkHandler(d))
	st.POST("/api/unlink", UnlinkHandler(d))
	st.POST("/api/lag", SetLagHandler(d))
	st.POST("/api/users", SubmitUsersHandler(d))
	st.GET("/api/tree", GetTreeHandler(d))

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/spantree/") {
			http.NotFound(w, r)
		} else {
			http.Redirect(w, r, "/spantree/api/tree", http.StatusTemporaryRedirect)
		}
	})
	return r
}

func CreateDebugRouter() *httprouter.Router {
	r := httprouter.New()
	r.Handler(http.MethodGet, "/debug/metrics", promhttp.Handler())
	r.HandlerFunc(http.MethodGet, "/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
