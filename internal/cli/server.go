package cli

import (
	"context"
	"crypto/tls"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgrepo/pgrepo/internal/archive"
	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/protocol"
	"github.com/pgrepo/pgrepo/internal/ssh"
)

var serverFlags = &struct {
	Listen   string
	TLSCert  string
	TLSKey   string
	Stdio    bool
	SSHHost  string
	SSHUser  string
	SSHKey   string
	Insecure bool
}{}

// serverCmd answers archive-push/archive-get requests dispatched by a
// peer's internal/protocol.Client, the worker side of spec §6's remote
// transport. Running --stdio lets the same binary serve exactly one
// connection over its own stdin/stdout, which is how DialSSH's
// ssh-exec'd remote process is expected to be invoked.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Answer archive-push/archive-get requests dispatched by a remote worker client",
	RunE: func(cmd *cobra.Command, args []string) error {
		stanza, err := requireStanza()
		if err != nil {
			return err
		}
		handler := func(ctx context.Context, tag string, params []protocol.Param) (protocol.Response, error) {
			return dispatchWorkerTag(ctx, cmd, stanza, tag, params)
		}

		if resolveBool(cmd, "server-stdio", serverFlags.Stdio, false) {
			return protocol.ServeConn(cmd.Context(), stdioReadWriter{}, handler)
		}

		cert, err := tls.LoadX509KeyPair(serverFlags.TLSCert, serverFlags.TLSKey)
		if err != nil {
			return errkind.Wrap(errkind.ConfigError, err, "load TLS certificate")
		}
		ln, err := protocol.ListenTLS(resolveString(cmd, "server-listen", serverFlags.Listen, ":8432"),
			&tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			return err
		}
		return protocol.Serve(cmd.Context(), ln, handler)
	},
}

// serverPingCmd is the liveness probe spec §6's server-ping command names:
// dial the configured transport and confirm PingTag is answered.
var serverPingCmd = &cobra.Command{
	Use:   "server-ping",
	Short: "Confirm a configured remote worker is reachable and answering",
	RunE: func(cmd *cobra.Command, args []string) error {
		var c *protocol.Client
		var err error
		if serverFlags.SSHHost != "" {
			c, err = protocol.DialSSH(cmd.Context(), ssh.Config{
				User:     resolveString(cmd, "server-ssh-user", serverFlags.SSHUser, ""),
				Host:     resolveString(cmd, "server-ssh-host", serverFlags.SSHHost, ""),
				KeyPath:  resolveString(cmd, "server-ssh-key", serverFlags.SSHKey, ""),
				Insecure: resolveBool(cmd, "server-insecure", serverFlags.Insecure, false),
			}, argv0()+" server --stdio --stanza "+global.Stanza)
		} else {
			c, err = protocol.DialTLS(cmd.Context(), resolveString(cmd, "server-listen", serverFlags.Listen, ":8432"),
				&tls.Config{InsecureSkipVerify: resolveBool(cmd, "server-insecure", serverFlags.Insecure, false)})
		}
		if err != nil {
			return err
		}
		defer c.Close()
		if err := protocol.Ping(cmd.Context(), c); err != nil {
			return err
		}
		cmd.Println("pong")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{serverCmd, serverPingCmd} {
		f := cmd.Flags()
		f.StringVar(&serverFlags.Listen, "server-listen", ":8432", "TLS listen address (server) or dial address (server-ping)")
		f.StringVar(&serverFlags.TLSCert, "server-tls-cert", "", "TLS certificate path (server)")
		f.StringVar(&serverFlags.TLSKey, "server-tls-key", "", "TLS private key path (server)")
		f.BoolVar(&serverFlags.Stdio, "server-stdio", false, "serve one connection over stdin/stdout instead of TLS")
		f.StringVar(&serverFlags.SSHHost, "server-ssh-host", "", "server-ping: dial the worker via SSH-exec instead of TLS")
		f.StringVar(&serverFlags.SSHUser, "server-ssh-user", "", "server-ping: SSH user")
		f.StringVar(&serverFlags.SSHKey, "server-ssh-key", "", "server-ping: SSH private key path")
		f.BoolVar(&serverFlags.Insecure, "server-insecure", false, "skip TLS certificate or SSH host-key verification")
	}
}

// dispatchWorkerTag implements the two operations a remote worker answers:
// archive-push/archive-get staged on the worker's own filesystem, reusing
// internal/archive's Push/Get exactly as the local archive-push/archive-get
// commands do.
func dispatchWorkerTag(ctx context.Context, cmd *cobra.Command, stanza, tag string, params []protocol.Param) (protocol.Response, error) {
	cfg, err := buildArchiveConfig(cmd, stanza)
	if err != nil {
		return protocol.Response{}, err
	}
	switch tag {
	case "archive-push":
		if len(params) != 1 {
			return protocol.Response{}, errkind.New(errkind.ProtocolError, "archive-push expects 1 param, got %d", len(params))
		}
		if err := archive.Push(ctx, cfg, params[0].StringV); err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{}, nil
	case "archive-get":
		if len(params) != 2 {
			return protocol.Response{}, errkind.New(errkind.ProtocolError, "archive-get expects 2 params, got %d", len(params))
		}
		ok, err := archive.Get(ctx, cfg, params[0].StringV, params[1].StringV)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Params: []protocol.Param{protocol.ParamBool(ok)}}, nil
	default:
		return protocol.Response{}, errkind.New(errkind.ProtocolError, "unknown tag %q", tag)
	}
}

// stdioReadWriter adapts the process's own stdin/stdout into the
// io.ReadWriter ServeConn wants, the remote end of DialSSH's pipe.
type stdioReadWriter struct{}

func (stdioReadWriter) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioReadWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
