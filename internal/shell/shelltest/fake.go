// Package shelltest provides an in-memory shell.Session for tests.
package shelltest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/shell"
)

// Handler answers one command. The returned lines are streamed before the
// result is returned.
type Handler func(ctx context.Context, command string) (lines []string, result shell.Result, err error)

// ErrInterrupted is returned by commands that block until interrupted.
var ErrInterrupted = errors.New("interrupted")

// Session is a fake shell.Session that records everything it is asked to do.
type Session struct {
	host    core.Host
	handler Handler

	mu         sync.Mutex
	open       bool
	commands   []string
	uploads    [][2]string
	downloads  [][2]string
	interrupts int
	connects   int
	connectErr error
	interrupt  chan struct{}
	files      map[string]int64
}

// New returns a fake session for host. A nil handler echoes the command.
func New(host core.Host, handler Handler) *Session {
	if handler == nil {
		handler = Echo
	}
	return &Session{host: host, handler: handler, interrupt: make(chan struct{}, 1), files: map[string]int64{}}
}

// Echo answers every command with the command text.
func Echo(_ context.Context, command string) ([]string, shell.Result, error) {
	return []string{command}, shell.Result{Output: command}, nil
}

// Block waits until the session is interrupted.
func (s *Session) Block(ctx context.Context) error {
	select {
	case <-s.interrupt:
		return ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailConnect makes the next connects fail with err.
func (s *Session) FailConnect(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

// SetFile registers a remote file size for downloads.
func (s *Session) SetFile(path string, size int64) {
	s.mu.Lock()
	s.files[path] = size
	s.mu.Unlock()
}

func (s *Session) Host() core.Host { return s.host }

func (s *Session) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return s.connectErr
	}
	s.open = true
	return nil
}

func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Session) Run(ctx context.Context, command string, onLine shell.LineFunc) (shell.Result, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return shell.Result{}, core.ErrSessionClosed
	}
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	lines, res, err := s.handler(ctx, command)
	if onLine != nil {
		for _, l := range lines {
			onLine(l)
		}
	}
	return res, err
}

func (s *Session) Interrupt() error {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) Upload(_ context.Context, local, remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return core.ErrSessionClosed
	}
	s.uploads = append(s.uploads, [2]string{local, remote})
	return nil
}

func (s *Session) Download(_ context.Context, remote, local string, maxSize int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, core.ErrSessionClosed
	}
	size, ok := s.files[remote]
	if !ok {
		return 0, errors.New("no such file: " + remote)
	}
	if maxSize > 0 && size > maxSize {
		return 0, shell.ErrTooLarge
	}
	s.downloads = append(s.downloads, [2]string{remote, local})
	return size, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

// Commands returns the commands run so far.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// HasCommand reports whether a command containing sub was run.
func (s *Session) HasCommand(sub string) bool {
	for _, c := range s.Commands() {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

func (s *Session) Uploads() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.uploads...)
}

func (s *Session) Downloads() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.downloads...)
}

func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

func (s *Session) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

var _ shell.Session = (*Session)(nil)
