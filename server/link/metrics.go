package link

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

var rpcLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "spantree",
	Subsystem: "link",
	Name:      "rpc_seconds",
	Help:      "Latency of relay calls between linked servers",
}, []string{"side", "method", "result"})

func init() {
	prometheus.MustRegister(rpcLatency)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func clientReporter(ctx context.Context,
	method string, req, reply interface{},
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	t0 := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)

	_, name := splitMethodName(method)
	rpcLatency.WithLabelValues("client", name, result(err)).Observe(time.Since(t0).Seconds())
	return err
}

func serverReporter(ctx context.Context, req interface{},
	info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (interface{}, error) {
	t0 := time.Now()
	resp, err := handler(ctx, req)

	_, name := splitMethodName(info.FullMethod)
	rpcLatency.WithLabelValues("server", name, result(err)).Observe(time.Since(t0).Seconds())
	return resp, err
}

func splitMethodName(fullMethodName string) (string, string) {
	fullMethodName = strings.TrimPrefix(fullMethodName, "/") // remove leading slash
	if i := strings.Index(fullMethodName, "/"); i >= 0 {
		return fullMethodName[:i], fullMethodName[i+1:]
	}
	return "unknown", "unknown"
}
