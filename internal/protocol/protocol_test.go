package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

func TestParamNullStringRoundTrips(t *testing.T) {
	present := "abc"
	p := ParamNullString(&present)
	if p.Null || p.StringV != "abc" {
		t.Fatalf("expected a present nullable string, got %+v", p)
	}

	p = ParamNullString(nil)
	if !p.Null {
		t.Fatalf("expected Null=true for a nil pointer, got %+v", p)
	}
}

func newClientServerPipe(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	c := &Client{conn: clientConn, codec: newCodec(clientConn)}
	t.Cleanup(func() { c.Close() })
	return c, serverConn
}

func TestCallRoundTripsSuccessfulResponse(t *testing.T) {
	c, serverConn := newClientServerPipe(t)

	handler := func(ctx context.Context, tag string, params []Param) (Response, error) {
		if tag != "echo" || len(params) != 1 || params[0].StringV != "hello" {
			t.Errorf("unexpected request reached handler: tag=%s params=%+v", tag, params)
		}
		return Response{Params: []Param{ParamInt64(42)}}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = ServeConn(ctx, serverConn, handler)
		serverConn.Close()
	}()

	resp, err := c.Call(context.Background(), "echo", []Param{ParamString("hello")})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || len(resp.Params) != 1 || resp.Params[0].Int64V != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCallPropagatesHandlerErrorKind(t *testing.T) {
	c, serverConn := newClientServerPipe(t)

	handler := func(ctx context.Context, tag string, params []Param) (Response, error) {
		return Response{}, errkind.New(errkind.ChecksumError, "checksum mismatch for %s", "seg1")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = ServeConn(ctx, serverConn, handler)
		serverConn.Close()
	}()

	resp, err := c.Call(context.Background(), "verify-file", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK {
		t.Fatal("expected a failure response")
	}
	werr := resp.Err()
	e := errkind.As(werr)
	if e.Kind != errkind.ChecksumError {
		t.Fatalf("expected ChecksumError, got %s", e.Kind)
	}
}

func TestPingIsAnsweredWithoutReachingHandler(t *testing.T) {
	c, serverConn := newClientServerPipe(t)

	called := false
	handler := func(ctx context.Context, tag string, params []Param) (Response, error) {
		called = true
		return Response{}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = ServeConn(ctx, serverConn, handler)
		serverConn.Close()
	}()

	if err := Ping(context.Background(), c); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if called {
		t.Fatal("expected PingTag to be answered without invoking the handler")
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })
	c := &Client{conn: clientConn, codec: newCodec(clientConn)}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// No server is reading the other end of the pipe, so the write (and
	// thus the whole Call) blocks until ctx's deadline fires.
	_, err := c.Call(ctx, "stuck", nil)
	if err == nil {
		t.Fatal("expected Call to return once ctx was canceled")
	}
}
