// Package sftp implements storage.Driver over an SFTP connection, for
// repo1-type=sftp (spec §6), grounded on the teacher's internal/ssh client
// for the underlying transport and github.com/pkg/sftp for the file
// protocol.
package sftp

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
	pgssh "github.com/pgrepo/pgrepo/internal/ssh"
)

// Driver wraps an *sftp.Client built from an SSH connection dialed via
// internal/ssh's authentication stack (key file, agent, known_hosts).
type Driver struct {
	client *sftp.Client
}

// Dial opens the underlying SSH connection and starts an SFTP subsystem
// session on top of it.
func Dial(ctx context.Context, cfg pgssh.Config) (*Driver, error) {
	sshClient, err := dialRaw(ctx, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "sftp: dial %s", cfg.Host)
	}
	sc, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, errkind.Wrap(errkind.DbConnectError, err, "sftp: open subsystem")
	}
	return &Driver{client: sc}, nil
}

// dialRaw dials through internal/ssh and returns the *ssh.Client underneath
// the resulting internal/ssh.Client, via pgssh.RawClient.
func dialRaw(ctx context.Context, cfg pgssh.Config) (*ssh.Client, error) {
	c, err := pgssh.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pgssh.RawClient(c), nil
}

func (d *Driver) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	f, err := d.client.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.FileMissingError, err, "file %s does not exist", p)
		}
		return nil, errkind.Wrap(errkind.FileOpenError, err, "could not open %s", p)
	}
	return f, nil
}

func (d *Driver) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := d.client.MkdirAll(path.Dir(p)); err != nil {
		return nil, errkind.Wrap(errkind.PathOpenError, err, "could not create parent dir for %s", p)
	}
	f, err := d.client.Create(p)
	if err != nil {
		return nil, errkind.Wrap(errkind.FileWriteError, err, "could not create %s", p)
	}
	return f, nil
}

func (d *Driver) Stat(ctx context.Context, p string) (storage.FileInfo, error) {
	fi, err := d.client.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.FileInfo{}, errkind.Wrap(errkind.FileMissingError, err, "file %s does not exist", p)
		}
		return storage.FileInfo{}, errkind.Wrap(errkind.FileOpenError, err, "could not stat %s", p)
	}
	return storage.FileInfo{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

func (d *Driver) List(ctx context.Context, p string) ([]storage.FileInfo, error) {
	entries, err := d.client.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.PathMissingError, err, "path %s does not exist", p)
		}
		return nil, errkind.Wrap(errkind.PathOpenError, err, "could not list %s", p)
	}
	out := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, storage.FileInfo{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (d *Driver) Remove(ctx context.Context, p string) error {
	if err := d.client.Remove(p); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.FileWriteError, err, "could not remove %s", p)
	}
	return nil
}

func (d *Driver) MakeDir(ctx context.Context, p string) error {
	if err := d.client.MkdirAll(p); err != nil {
		return errkind.Wrap(errkind.PathOpenError, err, "could not create dir %s", p)
	}
	return nil
}

func (d *Driver) Exists(ctx context.Context, p string) (bool, error) {
	return storage.Exists(ctx, d, p, func(err error) bool {
		return errkind.As(err).Kind == errkind.FileMissingError
	})
}

func (d *Driver) Close() error { return d.client.Close() }

var _ storage.Driver = (*Driver)(nil)
