package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	jlog "github.com/luno/jettison/log"
	"google.golang.org/grpc"

	"github.com/luno/spantree/server/handlers"
	"github.com/luno/spantree/server/link"
	"github.com/luno/spantree/server/ops"
	"github.com/luno/spantree/server/ops/config"
)

var sessionBuffer = flag.Int("session_buffer", 512, "reply lines buffered per waiting map request")

type state struct {
	srv      *ops.Server
	sessions *ops.Sessions
}

func (s state) Server() *ops.Server {
	return s.srv
}

func (s state) Sessions() *ops.Sessions {
	return s.sessions
}

func main() {
	InitLogging()
	flag.Parse()
	config.MustLoadConfig()
	cfg := config.GetConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	sessions := ops.NewSessions(cfg.Server.ID, *sessionBuffer)

	var (
		out    *ops.Outbox
		listen func(s *ops.Server)
	)
	switch cfg.Relay {
	case config.RelayRedis:
		pool, err := ops.NewRedisPool(ctx)
		if err != nil {
			jlog.Error(ctx, errors.Wrap(err, "failed to connect to redis"))
			os.Exit(1)
		}
		relay := ops.NewRedisRelay(pool)
		out = relay.Outbox()
		listen = func(s *ops.Server) { relay.ListenForever(ctx, s) }
	default:
		client, err := link.Dial(cfg.Peers)
		if err != nil {
			jlog.Error(ctx, errors.Wrap(err, "failed to dial peers"))
			os.Exit(1)
		}
		defer client.Close()
		out = ops.NewOutbox(client.Send)
		listen = func(s *ops.Server) { runLinkServer(ctx, link.NewServer(s), cfg.Listen.GRPC) }
	}

	srv, err := ops.NewServer(cfg, out, sessions)
	if err != nil {
		jlog.Error(ctx, errors.Wrap(err, "invalid local server"))
		os.Exit(1)
	}
	jlog.Info(ctx, "server starting", startFields(cfg))

	goRun(func() { _ = srv.Run(ctx) })
	goRun(func() { _ = out.Run(ctx) })
	goRun(func() { listen(srv) })

	s := state{srv: srv, sessions: sessions}
	goRun(func() { runWebServer(ctx, handlers.CreateRouter(s), cfg.Listen.HTTP) })
	goRun(func() { runWebServer(ctx, handlers.CreateDebugRouter(), cfg.Listen.Debug) })

	wg.Wait()
}

func startFields(cfg config.Config) j.MKV {
	return j.MKV{
		"name":        cfg.Server.Name,
		"id":          cfg.Server.ID,
		"description": cfg.Server.Description,
		"relay":       cfg.Relay,
		"peers":       len(cfg.Peers),
	}
}

func runLinkServer(ctx context.Context, gs *grpc.Server, addr string) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		panic(err)
	}
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	jlog.Info(ctx, "link server listening", j.KV("address", addr))
	err = gs.Serve(l)
	if err != nil {
		jlog.Error(ctx, errors.Wrap(err, "link server stopped"))
	}
}

func runWebServer(ctx context.Context, router *httprouter.Router, addr string) {
	srv := &http.Server{
		BaseContext: func(listener net.Listener) context.Context { return ctx },
		Handler:     router,
		Addr:        addr,
	}
	go shutdownOnCancel(ctx, srv)
	jlog.Info(ctx, "server listening", j.KV("address", addr))
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
	jlog.Info(ctx, "server terminated", j.KV("address", addr))
}

func shutdownOnCancel(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	jlog.Info(ctx, "shutting down http server")
	_ = server.Shutdown(ctx)
}
