package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dagucloud/herd/internal/core"
)

const (
	interruptByte  = "\x03"
	resendDelay    = 100 * time.Millisecond
	maxLineSize    = 1 << 20
	initialization = "stty -echo 2>/dev/null; unset PROMPT_COMMAND; PS1=''; PS2=''; export PS1 PS2\n"
)

var (
	// marker lines carry the id of the command they terminate and its exit
	// code. Text before the marker is the unterminated last output line.
	markerRe = regexp.MustCompile(`^(.*)__HERD_([0-9a-f]{32})__(\d+)$`)
	ansiRe   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\a]*\a`)
)

// markerLine prints the marker for id. The literal is split so an echoed
// copy of the line never matches markerRe.
func markerLine(id string) string {
	return fmt.Sprintf("printf '__HE''RD_%%s__%%d\\n' %s \"$?\"\n", id)
}

// stream runs commands over a long-lived interactive shell. Every command
// is followed by a marker line from which the exit code is read.
type stream struct {
	w  io.Writer
	wm sync.Mutex

	lines chan string
	err   error
	done  chan struct{}

	run     sync.Mutex
	current atomic.Pointer[string]
}

func newStream(w io.Writer, r io.Reader) *stream {
	s := &stream{w: w, lines: make(chan string, 64), done: make(chan struct{})}
	go s.read(r)
	return s
}

func (s *stream) read(r io.Reader) {
	defer close(s.done)
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		s.lines <- strings.TrimRight(sc.Text(), "\r")
	}
	if err := sc.Err(); err != nil {
		s.err = err
	} else {
		s.err = io.EOF
	}
}

func (s *stream) write(text string) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := io.WriteString(s.w, text)
	return err
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// init switches off echo and prompts, then waits until the shell answers.
func (s *stream) init(ctx context.Context) error {
	if err := s.write(initialization); err != nil {
		return err
	}
	_, err := s.exec(ctx, "true", nil)
	return err
}

func (s *stream) exec(ctx context.Context, command string, onLine LineFunc) (Result, error) {
	s.run.Lock()
	defer s.run.Unlock()

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.current.Store(&id)
	defer s.current.Store(nil)

	if err := s.write(command + "\n" + markerLine(id)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", core.ErrSessionClosed, err)
	}

	var out []string
	emit := func(line string) {
		out = append(out, line)
		if onLine != nil {
			onLine(line)
		}
	}
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return Result{Output: strings.Join(out, "\n")}, fmt.Errorf("%w: %v", core.ErrSessionClosed, s.err)
			}
			line = ansiRe.ReplaceAllString(line, "")
			if m := markerRe.FindStringSubmatch(line); m != nil {
				if m[1] != "" {
					emit(m[1])
				}
				if m[2] != id {
					// stale marker from an interrupted command
					continue
				}
				code, _ := strconv.Atoi(m[3])
				return Result{Output: strings.Join(out, "\n"), ExitCode: code}, nil
			}
			emit(line)
		case <-ctx.Done():
			return Result{Output: strings.Join(out, "\n")}, ctx.Err()
		}
	}
}

// interrupt sends ctrl-c. The tty may discard the queued marker together
// with the interrupted command, so it is sent again shortly after.
func (s *stream) interrupt() error {
	if err := s.write(interruptByte); err != nil {
		return err
	}
	if id := s.current.Load(); id != nil {
		marker := markerLine(*id)
		time.AfterFunc(resendDelay, func() {
			if cur := s.current.Load(); cur != nil && *cur == *id {
				_ = s.write(marker)
			}
		})
	}
	return nil
}
