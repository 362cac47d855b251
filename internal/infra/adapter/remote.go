package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/zap"

	"dispatchd/internal/domain"
	"dispatchd/internal/infra/telemetry"
)

const (
	methodToolsCall   = "tools/call"
	methodPing        = "ping"
	errorBodyLimit    = 256
	defaultBackoffCap = 30 * time.Second
)

// Remote reaches a tool backend over a request/response channel. It adds
// its own retry with exponential backoff for transient channel failures;
// the circuit breaker above it protects the call site.
type Remote struct {
	name         string
	conn         domain.Conn
	retries      int
	backoffBase  time.Duration
	callTimeout  time.Duration
	probeTimeout time.Duration
	logger       *zap.Logger
	metrics      domain.Metrics

	initialized atomic.Bool
	closeOnce   sync.Once
	closeErr    error

	// callMu serializes send/recv pairs on the shared channel.
	callMu sync.Mutex
}

type RemoteOptions struct {
	Name         string
	Retries      int
	BackoffBase  time.Duration
	CallTimeout  time.Duration
	ProbeTimeout time.Duration
	Logger       *zap.Logger
	Metrics      domain.Metrics
}

func NewRemote(conn domain.Conn, opts RemoteOptions) *Remote {
	retries := opts.Retries
	if retries < 0 {
		retries = domain.DefaultExecuteRetries
	}
	base := opts.BackoffBase
	if base <= 0 {
		base = domain.DefaultBackoffBaseMillis * time.Millisecond
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = domain.DefaultHealthProbeSeconds * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Remote{
		name:         opts.Name,
		conn:         conn,
		retries:      retries,
		backoffBase:  base,
		callTimeout:  opts.CallTimeout,
		probeTimeout: probeTimeout,
		logger:       logger.Named("adapter"),
		metrics:      metrics,
	}
}

// Initialize verifies the channel with a ping. It is idempotent.
func (r *Remote) Initialize(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}
	if r.conn == nil {
		return &domain.AdapterError{Op: "initialize", ToolName: r.name, Message: "connection is nil"}
	}
	if err := r.ping(ctx); err != nil {
		return &domain.AdapterError{Op: "initialize", ToolName: r.name, Cause: err}
	}
	r.initialized.Store(true)
	r.logger.Info("adapter initialized", zap.String("adapter", r.name))
	return nil
}

// Shutdown closes the channel. Safe to call more than once.
func (r *Remote) Shutdown(_ context.Context) error {
	r.closeOnce.Do(func() {
		r.initialized.Store(false)
		if r.conn != nil {
			r.closeErr = r.conn.Close()
		}
	})
	return r.closeErr
}

// Execute sends one tool call, retrying transient channel and 5xx
// failures with exponential backoff. Deterministic failures (4xx, an
// explicit success=false result) surface immediately with no retry.
func (r *Remote) Execute(ctx context.Context, toolName string, params, callContext map[string]any) (map[string]any, error) {
	if !r.initialized.Load() {
		return nil, &domain.AdapterError{Op: "execute", ToolName: toolName, Cause: domain.ErrNotInitialized}
	}

	if callContext == nil {
		callContext = map[string]any{}
	}
	envelope := domain.CallEnvelope{
		ToolName:   toolName,
		Parameters: params,
		Context:    callContext,
	}

	bo := newBackoff(r.backoffBase, defaultBackoffCap)
	attempts := r.retries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			r.metrics.ObserveRetry(toolName)
			if err := bo.Sleep(ctx); err != nil {
				return nil, err
			}
		}

		result, err := r.call(ctx, methodToolsCall, envelope)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			r.logger.Warn("tool call transport failure",
				zap.String("tool", toolName),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if attempt == attempts-1 {
				return nil, &domain.TransportError{ToolName: toolName, Attempts: attempts, Cause: lastErr}
			}
			continue
		}

		if result.Success {
			return result.Result, nil
		}

		if result.ServerFault() {
			lastErr = fmt.Errorf("backend status %d: %s", result.Status, result.Error)
			r.logger.Warn("tool call server fault",
				zap.String("tool", toolName),
				zap.Int("attempt", attempt+1),
				zap.Int("status", result.Status),
			)
			if attempt == attempts-1 {
				return nil, &domain.AdapterError{
					Op:       "execute",
					ToolName: toolName,
					Status:   result.Status,
					Message:  domain.TruncateBody(result.Error, errorBodyLimit),
				}
			}
			continue
		}

		if result.Status >= 400 {
			return nil, &domain.AdapterError{
				Op:       "execute",
				ToolName: toolName,
				Status:   result.Status,
				Message:  domain.TruncateBody(result.Error, errorBodyLimit),
			}
		}

		// Structurally valid, backend executed, backend said no. A
		// deterministic business failure: never retried, still a
		// genuine breaker failure.
		return nil, &domain.ToolError{
			ToolName: toolName,
			Message:  result.Error,
			Details:  result.Details,
		}
	}

	return nil, &domain.TransportError{ToolName: toolName, Attempts: attempts, Cause: lastErr}
}

// HealthCheck probes the backend with a short bounded ping. Trouble is
// reported through the status, never through an error.
func (r *Remote) HealthCheck(ctx context.Context) domain.HealthStatus {
	checkedAt := time.Now()
	if !r.initialized.Load() {
		return domain.HealthStatus{
			State:     domain.HealthStateUnhealthy,
			Message:   "adapter not initialized",
			CheckedAt: checkedAt,
		}
	}

	if err := r.ping(ctx); err != nil {
		return domain.HealthStatus{
			State:     domain.HealthStateUnhealthy,
			Message:   err.Error(),
			CheckedAt: checkedAt,
		}
	}
	return domain.HealthStatus{
		State:     domain.HealthStateHealthy,
		CheckedAt: checkedAt,
	}
}

func (r *Remote) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	result, err := r.call(pingCtx, methodPing, struct{}{})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("ping rejected: status %d: %s", result.Status, result.Error)
	}
	return nil
}

// call performs one send/recv round trip and decodes the structured
// result body. Channel failures come back raw for the caller to classify.
func (r *Remote) call(ctx context.Context, method string, params any) (domain.CallResult, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("encode params: %w", err)
	}

	id, err := jsonrpc.MakeID(uuid.NewString())
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("build request id: %w", err)
	}
	wire, err := jsonrpc.EncodeMessage(&jsonrpc.Request{
		ID:     id,
		Method: method,
		Params: json.RawMessage(raw),
	})
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("encode request: %w", err)
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	r.callMu.Lock()
	defer r.callMu.Unlock()

	if err := r.conn.Send(callCtx, wire); err != nil {
		return domain.CallResult{}, fmt.Errorf("send request: %w", err)
	}
	rawResp, err := r.conn.Recv(callCtx)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("receive response: %w", err)
	}

	msg, err := jsonrpc.DecodeMessage(rawResp)
	if err != nil {
		return domain.CallResult{}, fmt.Errorf("decode response: %w", err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return domain.CallResult{}, fmt.Errorf("unexpected message type for %s", method)
	}
	// A stray or reordered frame on the shared channel must not be taken
	// for this call's result.
	if resp.ID != id {
		return domain.CallResult{}, fmt.Errorf("response id mismatch for %s", method)
	}
	if resp.Error != nil {
		// A JSON-RPC level error is a server fault, not a channel one.
		return domain.CallResult{Status: 500, Error: resp.Error.Error()}, nil
	}

	var result domain.CallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return domain.CallResult{}, fmt.Errorf("decode result body: %w", err)
	}
	return result, nil
}

var _ domain.Adapter = (*Remote)(nil)
