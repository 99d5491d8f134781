package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/dagucloud/herd/internal/cmn/fileutil"
	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
)

var _ Session = (*LocalSession)(nil)

// LocalSession runs a shell on this machine behind a pseudo terminal.
type LocalSession struct {
	host core.Host
	cfg  Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	stream *stream
}

func NewLocal(host core.Host, cfg Config) *LocalSession {
	return &LocalSession{host: host, cfg: cfg}
}

func (s *LocalSession) Host() core.Host { return s.host }

func (s *LocalSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && !s.stream.closed() {
		return nil
	}
	_ = s.closeLocked()

	shell := s.cfg.shell(s.host.Shell)
	cmd := exec.Command(shell) //nolint:gosec
	cmd.Env = append(os.Environ(), "TERM=dumb")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", shell, err)
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: ptyRows, Cols: ptyCols}); err != nil {
		logger.Warn(ctx, "Failed to set terminal size", tag.Host(s.host.Name()), tag.Error(err))
	}

	st := newStream(ptmx, ptmx)
	initCtx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()
	if err := st.init(initCtx); err != nil {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("failed to initialize %s: %w", shell, err)
	}

	s.cmd, s.ptmx, s.stream = cmd, ptmx, st
	logger.Debug(ctx, "Started local shell", tag.Host(s.host.Name()), tag.String("shell", shell))
	return nil
}

func (s *LocalSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && !s.stream.closed()
}

func (s *LocalSession) current() (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.stream.closed() {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionClosed, s.host.Name())
	}
	return s.stream, nil
}

func (s *LocalSession) Run(ctx context.Context, command string, onLine LineFunc) (Result, error) {
	st, err := s.current()
	if err != nil {
		return Result{}, err
	}
	return st.exec(ctx, command, onLine)
}

func (s *LocalSession) Interrupt() error {
	st, err := s.current()
	if err != nil {
		return err
	}
	return st.interrupt()
}

func (s *LocalSession) Upload(ctx context.Context, local, remote string) error {
	n, err := fileutil.CopyFile(local, fileutil.ResolvePathOrBlank(remote), 0)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", local, err)
	}
	logger.Debug(ctx, "Copied file", tag.Path(local), tag.Destination(remote), tag.Size(n))
	return nil
}

func (s *LocalSession) Download(ctx context.Context, remote, local string, maxSize int64) (int64, error) {
	n, err := fileutil.CopyFile(fileutil.ResolvePathOrBlank(remote), local, maxSize)
	if err != nil {
		return 0, err
	}
	logger.Debug(ctx, "Copied file", tag.Path(remote), tag.Destination(local), tag.Size(n))
	return n, nil
}

func (s *LocalSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *LocalSession) closeLocked() error {
	var errs []error
	if s.ptmx != nil {
		if err := s.ptmx.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd, s.ptmx, s.stream = nil, nil, nil
	return errors.Join(errs...)
}
