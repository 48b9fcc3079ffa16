package protocol

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

// Handler answers one dispatched Request, returning either a successful
// Response (OK is set by ServeConn, not the handler) or an error whose
// errkind.Kind/message are serialized back to the caller (spec §7,
// "workers serialize errors over the protocol").
type Handler func(ctx context.Context, tag string, params []Param) (Response, error)

// PingTag is the fixed command every server-ping invocation sends to
// confirm a listening worker is alive and answering within
// protocol-timeout (SPEC_FULL.md EXPANSION's server-ping command).
const PingTag = "ping"

// Ping calls PingTag and reports whether the peer answered successfully.
func Ping(ctx context.Context, c *Client) error {
	resp, err := c.Call(ctx, PingTag, nil)
	if err != nil {
		return err
	}
	return resp.Err()
}

// ListenTLS opens the server command's TLS listener (SPEC_FULL.md
// EXPANSION, "the TLS protocol endpoint mentioned in §6").
func ListenTLS(addr string, cfg *tls.Config) (net.Listener, error) {
	return tls.Listen("tcp", addr, cfg)
}

// Serve accepts connections on ln, handling each with ServeConn in its own
// goroutine, until ctx is canceled or Accept fails.
func Serve(ctx context.Context, ln net.Listener, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go func() {
			defer conn.Close()
			if err := ServeConn(ctx, conn, h); err != nil {
				slog.Warn("protocol: connection ended", "err", err)
			}
		}()
	}
}

// ServeConn answers Requests read from rw one at a time until the peer
// closes the connection or ctx is done (spec §6, "a worker processes one
// job at a time"). It is shared by the TLS listener's per-connection
// goroutine and by the remote side of an SSH-exec'd worker process, whose
// rw is its own stdin/stdout rather than a net.Conn.
func ServeConn(ctx context.Context, rw io.ReadWriter, h Handler) error {
	c := newCodec(rw)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := c.readRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if req.Tag == PingTag {
			if err := c.writeResponse(Response{OK: true}); err != nil {
				return err
			}
			continue
		}

		resp, err := h(ctx, req.Tag, req.Params)
		if err != nil {
			e := errkind.As(err)
			resp = Response{ErrKind: e.Kind, ErrMessage: e.Msg}
		} else {
			resp.OK = true
		}
		if err := c.writeResponse(resp); err != nil {
			return err
		}
	}
}
