package spantree

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/api"
)

type Counter interface {
	Inc()
	Add(v float64)
}

type Measure interface {
	Observe(secs float64)
}

type noopMetric struct{}

func (noopMetric) Inc()            {}
func (noopMetric) Add(float64)     {}
func (noopMetric) Observe(float64) {}

// Client talks to a spantree server. It manages links and runs map
// queries directly, and batches user count changes before submitting them.
type Client struct {
	baseURL string
	cli     *http.Client
	metrics Metrics

	flushChan   chan chan error
	flushPeriod time.Duration
	reqTimeout  time.Duration

	q chan userDelta
}

var (
	errRetryable = errors.New("", j.C("ERR_6c1f0e4a9d73b285"))

	ErrNotFound = errors.New("not found", j.C("ERR_d4a8b20e7f61c593"))
	ErrConflict = errors.New("conflict", j.C("ERR_1b7e93c5a02d6f48"))
)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(client *Client) {
		client.baseURL = url
	}
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.cli = c
	}
}

func WithFlushPeriod(t time.Duration) ClientOption {
	return func(client *Client) {
		client.flushPeriod = t
	}
}

type Metrics struct {
	RecordedDeltas    Counter
	DroppedDeltas     Counter
	SubmittedDeltas   Counter
	SubmissionLatency Measure
	SubmissionErrors  Counter
}

func (m *Metrics) defaultUnused() {
	if m.RecordedDeltas == nil {
		m.RecordedDeltas = noopMetric{}
	}
	if m.DroppedDeltas == nil {
		m.DroppedDeltas = noopMetric{}
	}
	if m.SubmittedDeltas == nil {
		m.SubmittedDeltas = noopMetric{}
	}
	if m.SubmissionLatency == nil {
		m.SubmissionLatency = noopMetric{}
	}
	if m.SubmissionErrors == nil {
		m.SubmissionErrors = noopMetric{}
	}
}

func WithMetrics(m Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

func NewClient(opts ...ClientOption) *Client {
	ret := &Client{
		cli:         http.DefaultClient,
		flushChan:   make(chan chan error, 1),
		flushPeriod: 5 * time.Second,
		reqTimeout:  30 * time.Second,
		q:           make(chan userDelta, 1000),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.metrics.defaultUnused()
	if ret.cli == nil {
		panic("no http client specified")
	}
	return ret
}

type userDelta struct {
	Server string
	Delta  int
	Done   chan struct{}
}

// aggregate sums deltas per server, keeping the order servers were first
// seen so batches are applied predictably.
type aggregate struct {
	order  []string
	deltas map[string]int
}

func newAggregate() aggregate {
	return aggregate{deltas: make(map[string]int)}
}

func (a *aggregate) Record(server string, delta int) {
	if _, ok := a.deltas[server]; !ok {
		a.order = append(a.order, server)
	}
	a.deltas[server] += delta
}

func (a aggregate) Counts() []api.UserCount {
	var ret []api.UserCount
	for _, s := range a.order {
		if d := a.deltas[s]; d != 0 {
			ret = append(ret, api.UserCount{Server: s, Delta: d})
		}
	}
	return ret
}

// Record queues a change in the number of users on server. The returned
// channel is closed once the change is part of a pending batch. Changes are
// dropped when the queue is full.
func (c *Client) Record(server string, delta int) chan struct{} {
	done := make(chan struct{})
	select {
	case c.q <- userDelta{Server: server, Delta: delta, Done: done}:
		c.metrics.RecordedDeltas.Inc()
	default:
		c.metrics.DroppedDeltas.Inc()
		close(done)
	}
	return done
}

// Deliver batches recorded changes and submits them every flush period
// until ctx is done or a submission fails.
func (c *Client) Deliver(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := time.NewTicker(c.flushPeriod)
	defer t.Stop()

	flush := func(ctx context.Context, agg aggregate, ch chan<- error) aggregate {
		go func() {
			ch <- c.sendBatch(ctx, agg)
		}()
		return newAggregate()
	}
	agg := newAggregate()

	sendErrors := make(chan error)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-c.q:
			agg.Record(d.Server, d.Delta)
			close(d.Done)
		case <-t.C:
			agg = flush(ctx, agg, sendErrors)
		case err := <-sendErrors:
			if err != nil {
				return err
			}
		case ch := <-c.flushChan:
			agg = flush(ctx, agg, ch)
		}
	}
}

// Flush submits the pending batch and waits for the result. Deliver must
// be running.
func (c *Client) Flush(ctx context.Context) error {
	rep := make(chan error, 1)
	select {
	case c.flushChan <- rep:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-rep:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wrapHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*url.Error); ok {
		if e.Timeout() || e.Temporary() {
			return errors.Wrap(errRetryable, err.Error())
		}
	}
	return err
}

func (c *Client) doRetry(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	retries := 4
	wait := time.Second
	for {
		resp, err := c.do(ctx, method, path, body)
		if err == nil {
			return resp, nil
		}
		if !errors.IsAny(err, context.DeadlineExceeded, errRetryable) || retries <= 0 {
			return nil, err
		}
		select {
		case <-time.After(wait):
			wait *= 2
			retries--
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		log.Info(ctx, "retrying request", j.MKV{"path": path})
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, wrapHTTPError(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	s := strings.TrimSpace(string(b))
	switch resp.StatusCode {
	case http.StatusOK:
		return b, nil
	case http.StatusNotFound:
		return nil, errors.Wrap(ErrNotFound, "", j.KV("path", path))
	case http.StatusConflict:
		return nil, errors.Wrap(ErrConflict, "", j.KV("path", path))
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, errors.Wrap(errRetryable, s)
	}
	return nil, errors.New("request failed", j.MKV{"status": resp.StatusCode, "response": s})
}

func (c *Client) post(ctx context.Context, path string, req, resp any) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	r, err := c.do(ctx, http.MethodPost, path, b)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return json.Unmarshal(r, resp)
}

func (c *Client) sendBatch(ctx context.Context, a aggregate) error {
	counts := a.Counts()
	if len(counts) == 0 {
		return nil
	}

	t0 := time.Now()
	b, err := json.Marshal(api.SubmitUsers{Counts: counts})
	if err != nil {
		return err
	}

	_, err = c.doRetry(ctx, http.MethodPost, "/api/users", b)
	if err != nil {
		c.metrics.SubmissionErrors.Inc()
		return err
	}
	c.metrics.SubmissionLatency.Observe(time.Since(t0).Seconds())
	c.metrics.SubmittedDeltas.Add(float64(len(counts)))
	return nil
}

// Map runs a topology query as nick and returns the reply lines.
func (c *Client) Map(ctx context.Context, nick string, oper bool, target string) ([]string, error) {
	var resp api.MapResponse
	err := c.post(ctx, "/api/map", api.MapRequest{Nick: nick, Oper: oper, Target: target}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func (c *Client) Link(ctx context.Context, req api.LinkRequest) error {
	return c.post(ctx, "/api/link", req, nil)
}

// Unlink splits name from the network, returning the number of servers lost.
func (c *Client) Unlink(ctx context.Context, name string) (int, error) {
	var resp api.UnlinkResponse
	err := c.post(ctx, "/api/unlink", api.UnlinkRequest{Name: name}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Lost, nil
}

// SetLag updates the round trip time shown for a linked server.
func (c *Client) SetLag(ctx context.Context, name string, lag time.Duration) error {
	return c.post(ctx, "/api/lag", api.LagRequest{Name: name, LagMs: lag.Milliseconds()}, nil)
}

func (c *Client) GetTree(ctx context.Context) (api.GetTreeResponse, error) {
	r, err := c.do(ctx, http.MethodGet, "/api/tree", nil)
	if err != nil {
		return api.GetTreeResponse{}, err
	}

	var resp api.GetTreeResponse
	err = json.Unmarshal(r, &resp)
	if err != nil {
		return api.GetTreeResponse{}, err
	}
	return resp, nil
}
