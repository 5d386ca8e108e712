// Package rpcclient is the typed JSON-RPC transport shared by every
// coordinator task. It wraps go-ethereum's rpc.Client (the same
// client/rpc.CallContext pattern the teacher's client.Client uses
// throughout client/bridge_client.go) with a deadline wrapper so a
// slow peer aborts the current step instead of wedging the scheduler.
package rpcclient

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ControlPlaneTimeout is the canonical 5000ms deadline spec.md §4.A
// assigns to control-plane calls (everything but the prover).
const ControlPlaneTimeout = 5 * time.Second

var logger = zap.L().Named("coordinator.rpcclient").Sugar()

// Client is a thin, timeout-aware wrapper around a single JSON-RPC
// endpoint (either the leader L2 node or the L1 node).
type Client struct {
	uri     string
	rpc     *rpc.Client
	timeout time.Duration
}

// Dial connects to uri (http/https/ws/wss, anything rpc.DialContext
// accepts) with the given default per-call timeout.
func Dial(ctx context.Context, uri string, timeout time.Duration) (*Client, error) {
	c, err := rpc.DialContext(ctx, uri)
	if err != nil {
		return nil, errors.Wrapf(err, "rpcclient: dial %s", uri)
	}
	if timeout <= 0 {
		timeout = ControlPlaneTimeout
	}
	return &Client{uri: uri, rpc: c, timeout: timeout}, nil
}

// URI returns the endpoint this client was dialed against.
func (c *Client) URI() string { return c.uri }

// Close releases the underlying connection.
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// Call encodes a JSON-RPC 2.0 request, posts it, and decodes "result"
// into result (a pointer, or nil to discard the response body). It
// fails with a wrapped error carrying either the peer's error.message
// or a transport diagnostic. The call is bounded by the client's
// default timeout.
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.CallWithTimeout(ctx, c.timeout, result, method, args...)
}

// CallWithTimeout is Call with an explicit deadline, for call sites
// (e.g. the prover driver has none, block-submission waits longer)
// that need a timeout other than the client default.
func (c *Client) CallWithTimeout(ctx context.Context, d time.Duration, result interface{}, method string, args ...interface{}) error {
	return WithTimeout(ctx, d, func(ctx context.Context) error {
		err := c.rpc.CallContext(ctx, result, method, args...)
		if err != nil {
			return errors.Wrapf(err, "rpcclient: %s %s", c.uri, method)
		}
		return nil
	})
}

// WithTimeout is the companion timeout(ms, work) wrapper from spec.md
// §4.A: it aborts and returns ctx.Err() if fn does not complete within
// d, so the current step can log and retry next tick instead of
// blocking the single-threaded scheduler.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Warnw("rpc call exceeded deadline", "timeout", d)
		return ctx.Err()
	}
}
