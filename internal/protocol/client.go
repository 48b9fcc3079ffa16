package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"

	"github.com/pgrepo/pgrepo/internal/ssh"
)

// Client calls tagged operations on a remote worker, one at a time, over
// a single connection (spec §6, "a worker processes one job at a time").
// It is transport-agnostic: DialTLS and DialSSH both produce a Client
// wrapping the same gob codec over whatever io.ReadWriter the transport
// provides.
type Client struct {
	mu    sync.Mutex
	conn  io.Closer
	codec *codec
}

// Call sends a Request{tag, params} and blocks for the matching Response,
// or ctx's cancellation, whichever comes first. Concurrent Call calls on
// one Client are serialized to match the one-job-at-a-time worker.
func (c *Client) Call(ctx context.Context, tag string, params []Param) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := c.codec.writeRequest(Request{Tag: tag, Params: params}); err != nil {
			done <- result{err: fmt.Errorf("protocol: write %s request: %w", tag, err)}
			return
		}
		resp, err := c.codec.readResponse()
		if err != nil {
			done <- result{err: fmt.Errorf("protocol: read %s response: %w", tag, err)}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

// Close releases the underlying connection (TLS socket or SSH session).
func (c *Client) Close() error { return c.conn.Close() }

// DialTLS connects to a server/server-ping TLS endpoint (SPEC_FULL.md
// EXPANSION's internal/protocol/server), the alternative transport to the
// default SSH-exec'd remote process.
func DialTLS(ctx context.Context, addr string, cfg *tls.Config) (*Client, error) {
	d := tls.Dialer{Config: cfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, codec: newCodec(conn)}, nil
}

// DialSSH starts remoteCmd (the pgrepo binary invoked in its own "serve
// one connection over stdio" mode) on the host described by sshCfg and
// wires the protocol codec to its stdin/stdout, the default remote
// transport for dispatching archive/backup/verify work to another host
// (generalizing the teacher's single rsyncd-bootstrap use of
// internal/ssh into a general worker transport, spec §6).
func DialSSH(ctx context.Context, sshCfg ssh.Config, remoteCmd string) (*Client, error) {
	sc, err := ssh.Dial(ctx, sshCfg)
	if err != nil {
		return nil, err
	}
	session, err := ssh.RawClient(sc).NewSession()
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("protocol: open ssh session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		sc.Close()
		return nil, fmt.Errorf("protocol: stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		sc.Close()
		return nil, fmt.Errorf("protocol: stdout pipe: %w", err)
	}
	if err := session.Start(remoteCmd); err != nil {
		session.Close()
		sc.Close()
		return nil, fmt.Errorf("protocol: start %q: %w", remoteCmd, err)
	}

	pipe := sshPipe{Reader: stdout, WriteCloser: stdin}
	return &Client{conn: sshWorker{session: session, client: sc}, codec: newCodec(pipe)}, nil
}

// sshPipe adapts an ssh session's stdout reader and stdin writer into one
// io.ReadWriter the codec can use like a net.Conn.
type sshPipe struct {
	io.Reader
	io.WriteCloser
}

// sshWorker closes the session and its underlying connection together.
type sshWorker struct {
	session sshCloser
	client  interface{ Close() error }
}

type sshCloser interface{ Close() error }

func (w sshWorker) Close() error {
	_ = w.session.Close()
	return w.client.Close()
}
