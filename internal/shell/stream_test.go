package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/core"
)

// fakeShell answers a small command set the way a terminal would, with
// CRLF line endings and a ctrl-c that discards queued input.
func fakeShell(in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	code := 0
	blocked := false
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, interruptByte) {
			line = line[strings.LastIndex(line, interruptByte)+1:]
			blocked = false
			code = 130
		}
		if blocked {
			continue
		}
		switch {
		case strings.HasPrefix(line, "printf '__HE''RD_"):
			_, _ = fmt.Fprintf(out, "__HERD_%s__%d\r\n", strings.Fields(line)[2], code)
		case strings.HasPrefix(line, "echo "):
			_, _ = fmt.Fprintf(out, "%s\r\n", strings.TrimPrefix(line, "echo "))
			code = 0
		case strings.HasPrefix(line, "fail "):
			code, _ = strconv.Atoi(strings.TrimPrefix(line, "fail "))
		case line == "partial":
			_, _ = fmt.Fprint(out, "no newline")
			code = 0
		case line == "color":
			_, _ = fmt.Fprint(out, "\x1b[31mred\x1b[0m\r\n")
			code = 0
		case line == "stale":
			_, _ = fmt.Fprintf(out, "__HERD_%s__0\r\nafter\r\n", strings.Repeat("0", 32))
			code = 0
		case line == "block":
			blocked = true
		}
	}
}

func newTestStream(t *testing.T) (*stream, func()) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go func() {
		fakeShell(inR, outW)
		_ = outW.Close()
	}()
	s := newStream(inW, outR)
	t.Cleanup(func() {
		_ = inW.Close()
		_ = outW.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.init(ctx))
	return s, func() { _ = outW.Close() }
}

func TestStream_Exec(t *testing.T) {
	t.Parallel()
	s, _ := newTestStream(t)
	ctx := context.Background()

	t.Run("CollectsLines", func(t *testing.T) {
		var seen []string
		res, err := s.exec(ctx, "echo one\necho two", func(line string) {
			seen = append(seen, line)
		})
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo", res.Output)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, []string{"one", "two"}, seen)
	})

	t.Run("ExitCode", func(t *testing.T) {
		res, err := s.exec(ctx, "fail 3", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Empty(t, res.Output)
	})

	t.Run("UnterminatedLastLine", func(t *testing.T) {
		res, err := s.exec(ctx, "partial", nil)
		require.NoError(t, err)
		assert.Equal(t, "no newline", res.Output)
	})

	t.Run("StripsEscapes", func(t *testing.T) {
		res, err := s.exec(ctx, "color", nil)
		require.NoError(t, err)
		assert.Equal(t, "red", res.Output)
	})

	t.Run("IgnoresStaleMarker", func(t *testing.T) {
		res, err := s.exec(ctx, "stale", nil)
		require.NoError(t, err)
		assert.Equal(t, "after", res.Output)
	})
}

func TestStream_Interrupt(t *testing.T) {
	t.Parallel()
	s, _ := newTestStream(t)

	type result struct {
		res Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.exec(context.Background(), "block", nil)
		done <- result{res, err}
	}()

	require.Eventually(t, func() bool { return s.current.Load() != nil }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.interrupt())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 130, r.res.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted command did not return")
	}

	res, err := s.exec(context.Background(), "echo again", nil)
	require.NoError(t, err)
	assert.Equal(t, "again", res.Output)
}

func TestStream_ContextCancel(t *testing.T) {
	t.Parallel()
	s, _ := newTestStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.exec(ctx, "block", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_Closed(t *testing.T) {
	t.Parallel()
	s, closeOutput := newTestStream(t)
	closeOutput()

	require.Eventually(t, s.closed, time.Second, 5*time.Millisecond)
	_, err := s.exec(context.Background(), "echo late", nil)
	assert.ErrorIs(t, err, core.ErrSessionClosed)
}

func TestMarkerLine(t *testing.T) {
	t.Parallel()
	id := strings.Repeat("a", 32)
	line := strings.TrimSpace(markerLine(id))
	assert.False(t, markerRe.MatchString(line), "echoed marker command must not terminate a command")
	assert.True(t, markerRe.MatchString("__HERD_"+id+"__0"))

	m := markerRe.FindStringSubmatch("tail__HERD_" + id + "__12")
	require.NotNil(t, m)
	assert.Equal(t, []string{"tail", id, "12"}, m[1:])
}
