package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/domain"
)

// step scripts one send/recv round trip on the fake channel.
type step struct {
	sendErr error
	recvErr error
	result  *domain.CallResult
	strayID bool
}

func okStep(result map[string]any) step {
	return step{result: &domain.CallResult{Status: 200, Success: true, Result: result}}
}

func pingOK() step {
	return okStep(nil)
}

type scriptConn struct {
	steps  []step
	idx    int
	lastID jsonrpc.ID
	sends  int
	closed bool
}

func (c *scriptConn) Send(_ context.Context, payload json.RawMessage) error {
	if c.idx >= len(c.steps) {
		return errors.New("unexpected send: script exhausted")
	}
	c.sends++
	st := c.steps[c.idx]
	if st.sendErr != nil {
		c.idx++
		return st.sendErr
	}
	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		return err
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return errors.New("not a request")
	}
	c.lastID = req.ID
	return nil
}

func (c *scriptConn) Recv(_ context.Context) (json.RawMessage, error) {
	st := c.steps[c.idx]
	c.idx++
	if st.recvErr != nil {
		return nil, st.recvErr
	}
	body, err := json.Marshal(st.result)
	if err != nil {
		return nil, err
	}
	id := c.lastID
	if st.strayID {
		id, err = jsonrpc.MakeID("someone-else")
		if err != nil {
			return nil, err
		}
	}
	return jsonrpc.EncodeMessage(&jsonrpc.Response{ID: id, Result: json.RawMessage(body)})
}

func (c *scriptConn) Close() error {
	c.closed = true
	return nil
}

func newTestRemote(t *testing.T, conn *scriptConn, retries int) *Remote {
	t.Helper()
	r := NewRemote(conn, RemoteOptions{
		Name:        "echo",
		Retries:     retries,
		BackoffBase: time.Millisecond,
	})
	require.NoError(t, r.Initialize(context.Background()))
	return r
}

func TestRemote_ExecuteRequiresInitialize(t *testing.T) {
	r := NewRemote(&scriptConn{}, RemoteOptions{Name: "echo"})
	_, err := r.Execute(context.Background(), "echo", nil, nil)
	require.ErrorIs(t, err, domain.ErrNotInitialized)
	var adapterErr *domain.AdapterError
	require.ErrorAs(t, err, &adapterErr)
}

func TestRemote_InitializeIsIdempotent(t *testing.T) {
	conn := &scriptConn{steps: []step{pingOK()}}
	r := NewRemote(conn, RemoteOptions{Name: "echo"})
	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Initialize(context.Background()))
	require.Equal(t, 1, conn.sends)
}

func TestRemote_RetriesTransientThenSucceeds(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{sendErr: errors.New("connection refused")},
		{recvErr: errors.New("timeout")},
		okStep(map[string]any{"echoed": "hi"}),
	}}
	r := newTestRemote(t, conn, 2)

	result, err := r.Execute(context.Background(), "echo", map[string]any{"msg": "hi"}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"echoed": "hi"}, result)
}

func TestRemote_TransportErrorAfterExhaustedRetries(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{sendErr: errors.New("connection refused")},
		{sendErr: errors.New("connection refused")},
		{sendErr: errors.New("connection refused")},
	}}
	r := newTestRemote(t, conn, 2)

	_, err := r.Execute(context.Background(), "echo", nil, nil)
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, 3, transportErr.Attempts)
	require.Contains(t, transportErr.Error(), "connection refused")
}

func TestRemote_ServerFaultRetriesThenSucceeds(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{result: &domain.CallResult{Status: 503, Error: "overloaded"}},
		okStep(map[string]any{"ok": true}),
	}}
	r := newTestRemote(t, conn, 1)

	result, err := r.Execute(context.Background(), "echo", nil, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result)
}

func TestRemote_ServerFaultExhaustedIsAdapterError(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{result: &domain.CallResult{Status: 502, Error: "bad gateway"}},
		{result: &domain.CallResult{Status: 502, Error: "bad gateway"}},
	}}
	r := newTestRemote(t, conn, 1)

	_, err := r.Execute(context.Background(), "echo", nil, nil)
	var adapterErr *domain.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, 502, adapterErr.Status)
}

func TestRemote_ClientFaultFailsImmediately(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{result: &domain.CallResult{Status: 400, Error: "bad parameters"}},
	}}
	r := newTestRemote(t, conn, 3)

	_, err := r.Execute(context.Background(), "echo", nil, nil)
	var adapterErr *domain.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, 400, adapterErr.Status)
	// One ping plus exactly one call: no retry on 4xx.
	require.Equal(t, 2, conn.sends)
}

func TestRemote_ExplicitFailureIsToolErrorWithoutRetry(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{result: &domain.CallResult{Status: 200, Success: false, Error: "division by zero", Details: map[string]any{"input": "1/0"}}},
	}}
	r := newTestRemote(t, conn, 3)

	_, err := r.Execute(context.Background(), "calc", nil, nil)
	var toolErr *domain.ToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, "division by zero", toolErr.Message)
	require.Equal(t, 2, conn.sends)
}

func TestRemote_MismatchedResponseIDIsChannelFailure(t *testing.T) {
	conn := &scriptConn{steps: []step{
		pingOK(),
		{result: &domain.CallResult{Status: 200, Success: true, Result: map[string]any{"stale": true}}, strayID: true},
		okStep(map[string]any{"echoed": "hi"}),
	}}
	r := newTestRemote(t, conn, 1)

	// The stray frame is rejected and the call retried, never decoded as
	// this call's result.
	result, err := r.Execute(context.Background(), "echo", nil, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"echoed": "hi"}, result)

	exhausted := &scriptConn{steps: []step{
		pingOK(),
		{result: &domain.CallResult{Status: 200, Success: true}, strayID: true},
	}}
	r = newTestRemote(t, exhausted, 0)
	_, err = r.Execute(context.Background(), "echo", nil, nil)
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Contains(t, transportErr.Error(), "id mismatch")
}

func TestRemote_HealthCheck(t *testing.T) {
	r := NewRemote(&scriptConn{}, RemoteOptions{Name: "echo"})
	status := r.HealthCheck(context.Background())
	require.Equal(t, domain.HealthStateUnhealthy, status.State)
	require.Contains(t, status.Message, "not initialized")

	conn := &scriptConn{steps: []step{pingOK(), pingOK()}}
	r = NewRemote(conn, RemoteOptions{Name: "echo"})
	require.NoError(t, r.Initialize(context.Background()))
	status = r.HealthCheck(context.Background())
	require.Equal(t, domain.HealthStateHealthy, status.State)
	require.False(t, status.CheckedAt.IsZero())

	failing := &scriptConn{steps: []step{pingOK(), {recvErr: errors.New("pipe closed")}}}
	r = NewRemote(failing, RemoteOptions{Name: "echo"})
	require.NoError(t, r.Initialize(context.Background()))
	status = r.HealthCheck(context.Background())
	require.Equal(t, domain.HealthStateUnhealthy, status.State)
	require.Contains(t, status.Message, "pipe closed")
}

func TestRemote_ShutdownClosesOnce(t *testing.T) {
	conn := &scriptConn{steps: []step{pingOK()}}
	r := NewRemote(conn, RemoteOptions{Name: "echo"})
	require.NoError(t, r.Initialize(context.Background()))

	require.NoError(t, r.Shutdown(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))
	require.True(t, conn.closed)

	_, err := r.Execute(context.Background(), "echo", nil, nil)
	require.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	bo := newBackoff(time.Millisecond, 4*time.Millisecond)
	require.Equal(t, time.Millisecond, bo.current)
	require.NoError(t, bo.Sleep(context.Background()))
	require.Equal(t, 2*time.Millisecond, bo.current)
	require.NoError(t, bo.Sleep(context.Background()))
	require.Equal(t, 4*time.Millisecond, bo.current)
	require.NoError(t, bo.Sleep(context.Background()))
	require.Equal(t, 4*time.Millisecond, bo.current)

	bo.Reset()
	require.Equal(t, time.Millisecond, bo.current)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, bo.Sleep(ctx), context.Canceled)
}
