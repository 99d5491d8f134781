package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/mholt/archives"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
)

var _ Session = (*ContainerSession)(nil)

// ContainerSession attaches an interactive shell to a running container
// through the docker exec API.
type ContainerSession struct {
	host core.Host
	cfg  Config

	mu     sync.Mutex
	cli    *client.Client
	resp   *types.HijackedResponse
	stream *stream
}

func NewContainer(host core.Host, cfg Config) *ContainerSession {
	return &ContainerSession{host: host, cfg: cfg}
}

func (s *ContainerSession) Host() core.Host { return s.host }

func (s *ContainerSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil && !s.stream.closed() {
		return nil
	}
	_ = s.closeLocked()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}

	name := s.host.Container
	info, err := cli.ContainerInspect(ctx, name)
	if err != nil {
		_ = cli.Close()
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: container %s not found", core.ErrUnknownHost, name)
		}
		return fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if info.State == nil || !info.State.Running {
		_ = cli.Close()
		return fmt.Errorf("container %s is not running", name)
	}

	shell := s.cfg.shell(s.host.Shell)
	execResp, err := cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		User:         s.host.User,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{shell},
		Env:          []string{"TERM=dumb"},
	})
	if err != nil {
		_ = cli.Close()
		return fmt.Errorf("failed to create exec: %w", err)
	}
	resp, err := cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		_ = cli.Close()
		return fmt.Errorf("failed to start exec: %w", err)
	}
	if err := cli.ContainerExecResize(ctx, execResp.ID, container.ResizeOptions{Height: ptyRows, Width: ptyCols}); err != nil {
		logger.Debug(ctx, "Failed to resize exec terminal", tag.Host(s.host.Name()), tag.Error(err))
	}

	st := newStream(resp.Conn, resp.Reader)
	initCtx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()
	if err := st.init(initCtx); err != nil {
		resp.Close()
		_ = cli.Close()
		return fmt.Errorf("failed to initialize shell in %s: %w", name, err)
	}

	s.cli, s.resp, s.stream = cli, &resp, st
	logger.Info(ctx, "Attached to container", tag.Host(s.host.Name()), tag.String("container", name))
	return nil
}

func (s *ContainerSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && !s.stream.closed()
}

func (s *ContainerSession) current() (*stream, *client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.stream.closed() {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrSessionClosed, s.host.Name())
	}
	return s.stream, s.cli, nil
}

func (s *ContainerSession) Run(ctx context.Context, command string, onLine LineFunc) (Result, error) {
	st, _, err := s.current()
	if err != nil {
		return Result{}, err
	}
	return st.exec(ctx, command, onLine)
}

func (s *ContainerSession) Interrupt() error {
	st, _, err := s.current()
	if err != nil {
		return err
	}
	return st.interrupt()
}

// Upload sends local as a single entry tar archive into the directory of
// remote.
func (s *ContainerSession) Upload(ctx context.Context, local, remote string) error {
	_, cli, err := s.current()
	if err != nil {
		return err
	}

	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{local: path.Base(remote)})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", local, err)
	}

	pr, pw := io.Pipe()
	go func() {
		_ = pw.CloseWithError(archives.Tar{}.Archive(ctx, pw, files))
	}()

	if err := cli.CopyToContainer(ctx, s.host.Container, path.Dir(remote), pr, container.CopyToContainerOptions{}); err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("failed to upload %s: %w", local, err)
	}
	logger.Debug(ctx, "Uploaded file", tag.Host(s.host.Name()), tag.Path(local), tag.Destination(remote))
	return nil
}

func (s *ContainerSession) Download(ctx context.Context, remote, local string, maxSize int64) (int64, error) {
	_, cli, err := s.current()
	if err != nil {
		return 0, err
	}

	rc, stat, err := cli.CopyFromContainer(ctx, s.host.Container, remote)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s from container: %w", remote, err)
	}
	defer func() { _ = rc.Close() }()
	if stat.Mode.IsDir() {
		return 0, fmt.Errorf("%s is a directory", remote)
	}
	if maxSize > 0 && stat.Size > maxSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, remote, stat.Size, maxSize)
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
		return 0, err
	}
	var (
		written int64
		found   bool
	)
	err = archives.Tar{}.Extract(ctx, rc, func(_ context.Context, f archives.FileInfo) error {
		if f.IsDir() || found {
			return nil
		}
		found = true
		src, err := f.Open()
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()

		dst, err := os.Create(local) //nolint:gosec
		if err != nil {
			return err
		}
		n, copyErr := io.Copy(dst, src)
		if err := dst.Close(); copyErr == nil {
			copyErr = err
		}
		written = n
		return copyErr
	})
	if err != nil {
		return written, fmt.Errorf("failed to download %s: %w", remote, err)
	}
	logger.Debug(ctx, "Downloaded file", tag.Host(s.host.Name()), tag.Path(remote), tag.Destination(local), tag.Size(written))
	return written, nil
}

func (s *ContainerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *ContainerSession) closeLocked() error {
	if s.resp != nil {
		s.resp.Close()
	}
	var err error
	if s.cli != nil {
		err = s.cli.Close()
	}
	s.cli, s.resp, s.stream = nil, nil, nil
	return err
}
