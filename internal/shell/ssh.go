package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
)

const (
	ptyTerm = "xterm"
	ptyRows = 40
	ptyCols = 4096
)

var _ Session = (*SSHSession)(nil)

// SSHSession keeps one interactive shell open over SSH. File transfers use
// SFTP on the same connection.
type SSHSession struct {
	host core.Host
	cfg  Config

	mu      sync.Mutex
	conn    *ssh.Client
	session *ssh.Session
	stream  *stream
}

func NewSSH(host core.Host, cfg Config) *SSHSession {
	return &SSHSession{host: host, cfg: cfg}
}

func (s *SSHSession) Host() core.Host { return s.host }

func (s *SSHSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && !s.stream.closed() {
		return nil
	}
	s.closeLocked()

	auth, err := authMethod(s.host, s.cfg)
	if err != nil {
		return err
	}
	callback, err := hostKeyCallback(s.cfg.StrictHostKey, s.cfg.KnownHosts)
	if err != nil {
		return fmt.Errorf("failed to setup host key verification: %w", err)
	}
	clientCfg := &ssh.ClientConfig{
		User:            s.host.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: callback,
		Timeout:         s.cfg.timeout(),
	}

	hostPort := net.JoinHostPort(s.host.Hostname, s.host.Port)
	logger.Debug(ctx, "Dialing host", tag.Host(s.host.Name()), tag.Addr(hostPort))
	conn, err := ssh.Dial("tcp", hostPort, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", hostPort, err)
	}

	session, err := conn.NewSession()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open session on %s: %w", hostPort, err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(ptyTerm, ptyRows, ptyCols, modes); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to request pty on %s: %w", hostPort, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		_ = conn.Close()
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := session.Shell(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to start shell on %s: %w", hostPort, err)
	}

	st := newStream(stdin, stdout)
	initCtx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()
	if err := st.init(initCtx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to initialize shell on %s: %w", hostPort, err)
	}

	s.conn, s.session, s.stream = conn, session, st
	logger.Info(ctx, "Connected", tag.Host(s.host.Name()))
	return nil
}

func (s *SSHSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && !s.stream.closed()
}

func (s *SSHSession) current() (*stream, *ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.stream.closed() {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrSessionClosed, s.host.Name())
	}
	return s.stream, s.conn, nil
}

func (s *SSHSession) Run(ctx context.Context, command string, onLine LineFunc) (Result, error) {
	st, _, err := s.current()
	if err != nil {
		return Result{}, err
	}
	return st.exec(ctx, command, onLine)
}

func (s *SSHSession) Interrupt() error {
	st, _, err := s.current()
	if err != nil {
		return err
	}
	return st.interrupt()
}

func (s *SSHSession) Upload(ctx context.Context, local, remote string) error {
	client, err := s.sftp()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	src, err := os.Open(local) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer func() { _ = src.Close() }()

	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return fmt.Errorf("failed to create remote directory for %s: %w", remote, err)
	}
	dst, err := client.Create(remote)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remote, err)
	}
	defer func() { _ = dst.Close() }()

	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", local, err)
	}
	logger.Debug(ctx, "Uploaded file", tag.Host(s.host.Name()), tag.Path(local), tag.Destination(remote), tag.Size(n))
	return nil
}

func (s *SSHSession) Download(ctx context.Context, remote, local string, maxSize int64) (int64, error) {
	client, err := s.sftp()
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Close() }()

	info, err := client.Stat(remote)
	if err != nil {
		return 0, fmt.Errorf("failed to stat remote file %s: %w", remote, err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, remote, info.Size(), maxSize)
	}

	src, err := client.Open(remote)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file %s: %w", remote, err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
		return 0, err
	}
	dst, err := os.Create(local) //nolint:gosec
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to download %s: %w", remote, err)
	}
	logger.Debug(ctx, "Downloaded file", tag.Host(s.host.Name()), tag.Path(remote), tag.Destination(local), tag.Size(n))
	return n, nil
}

func (s *SSHSession) sftp() (*sftp.Client, error) {
	_, conn, err := s.current()
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	return client, nil
}

func (s *SSHSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SSHSession) closeLocked() error {
	var errs []error
	if s.session != nil {
		if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.conn, s.session, s.stream = nil, nil, nil
	return errors.Join(errs...)
}
