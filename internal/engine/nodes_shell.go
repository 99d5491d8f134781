package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dagucloud/herd/internal/cmn/backoff"
	"github.com/dagucloud/herd/internal/cmn/fileutil"
	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
)

// StateExitCode holds the exit code of the last shell command.
const StateExitCode = "EXIT_CODE"

func (x *Context) session() bool {
	if x.env.Session == nil {
		x.Abort(fmt.Sprintf("%v: no session for host %s", core.ErrSessionClosed, x.env.Host.Name()), false)
		return false
	}
	return true
}

// shAction runs a command on the host session. Output lines are handed to
// the node's watchers as they arrive.
type shAction struct {
	command        string
	ignoreExitCode *bool
}

func newShAction(arg string, flags Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing command")
	}
	return &shAction{command: arg, ignoreExitCode: flags.IgnoreExitCode}, nil
}

func (a *shAction) Kind() string  { return KindShell }
func (a *shAction) Arg() string   { return a.command }
func (a *shAction) streams() bool { return true }

func (a *shAction) Copy() Action {
	cp := *a
	return &cp
}

func (a *shAction) Run(x *Context, c *Cmd, input string) {
	if !x.session() {
		return
	}
	command, residual := x.Populate(c, a.command, input)
	if len(residual) > 0 {
		logger.Warn(x.ctx, "Unresolved references", tag.Cmd(x.env.filter(command)), tag.String("refs", strings.Join(residual, ",")))
	}
	var onLine func(string)
	if len(c.watchers) > 0 {
		onLine = func(line string) { x.streamLine(c, line) }
	}
	res, err := x.env.Session.Run(x.ctx, command, onLine)
	if err != nil {
		x.Abort(fmt.Sprintf("command %q failed: %v", command, err), false)
		return
	}
	x.state.Set(StateExitCode, res.ExitCode)

	check := x.env.CheckExitCode
	if a.ignoreExitCode != nil {
		check = !*a.ignoreExitCode
	}
	if check && res.ExitCode != 0 {
		x.Abort(fmt.Sprintf("command %q exited with %d", command, res.ExitCode), false)
		return
	}
	if !c.silent && res.Output != "" {
		x.Terminal(res.Output)
	}
	x.Next(c, res.Output)
}

// uploadAction copies a local file to the host: "local remote".
type uploadAction struct {
	local  string
	remote string
}

func newUploadAction(arg string, _ Flags) (Action, error) {
	fields := splitArgs(arg)
	if len(fields) != 2 {
		return nil, errors.New("expected: <local> <remote>")
	}
	return &uploadAction{local: fields[0], remote: fields[1]}, nil
}

func (a *uploadAction) Kind() string { return KindUpload }
func (a *uploadAction) Arg() string  { return a.local + " " + a.remote }
func (a *uploadAction) Copy() Action { return &uploadAction{local: a.local, remote: a.remote} }

func (a *uploadAction) Run(x *Context, c *Cmd, input string) {
	if !x.session() {
		return
	}
	local, err := fileutil.ResolvePath(x.Expand(c, a.local, input))
	if err != nil {
		x.Abort(fmt.Sprintf("upload: %v", err), false)
		return
	}
	remote := x.Expand(c, a.remote, input)
	if err := x.env.Session.Upload(x.ctx, local, remote); err != nil {
		x.Abort(fmt.Sprintf("upload %s to %s failed: %v", local, remote, err), false)
		return
	}
	logger.Info(x.ctx, "Uploaded", tag.Path(local), tag.Destination(remote))
	x.Next(c, input)
}

// downloadAction copies a file from the host now: "remote local [max-size]".
type downloadAction struct {
	remote  string
	local   string
	maxSize int64
}

func newDownloadAction(arg string, _ Flags) (Action, error) {
	fields := splitArgs(arg)
	if len(fields) < 2 || len(fields) > 3 {
		return nil, errors.New("expected: <remote> <local> [max-size]")
	}
	a := &downloadAction{remote: fields[0], local: fields[1]}
	if len(fields) == 3 {
		n, err := ParseSize(fields[2])
		if err != nil {
			return nil, err
		}
		a.maxSize = n
	}
	return a, nil
}

func (a *downloadAction) Kind() string { return KindDownload }
func (a *downloadAction) Arg() string  { return a.remote + " " + a.local }
func (a *downloadAction) Copy() Action {
	cp := *a
	return &cp
}

func (a *downloadAction) Run(x *Context, c *Cmd, input string) {
	if !x.session() {
		return
	}
	remote := x.Expand(c, a.remote, input)
	local, err := fileutil.ResolvePath(x.Expand(c, a.local, input))
	if err != nil {
		x.Abort(fmt.Sprintf("download: %v", err), false)
		return
	}
	n, err := x.env.Session.Download(x.ctx, remote, local, a.maxSize)
	if err != nil {
		x.Abort(fmt.Sprintf("download %s failed: %v", remote, err), false)
		return
	}
	logger.Info(x.ctx, "Downloaded", tag.Path(remote), tag.Destination(local), tag.Size(n))
	x.Next(c, input)
}

// queueDownloadAction registers a download flushed at the end of the stage:
// "remote [local] [max-size]".
type queueDownloadAction struct {
	remote  string
	local   string
	maxSize int64
}

func newQueueDownloadAction(arg string, _ Flags) (Action, error) {
	fields := splitArgs(arg)
	if len(fields) == 0 || len(fields) > 3 {
		return nil, errors.New("expected: <remote> [local] [max-size]")
	}
	a := &queueDownloadAction{remote: fields[0]}
	if len(fields) > 1 {
		a.local = fields[1]
	}
	if len(fields) > 2 {
		n, err := ParseSize(fields[2])
		if err != nil {
			return nil, err
		}
		a.maxSize = n
	}
	return a, nil
}

func (a *queueDownloadAction) Kind() string { return KindQueueDownload }
func (a *queueDownloadAction) Arg() string  { return strings.TrimSpace(a.remote + " " + a.local) }
func (a *queueDownloadAction) Copy() Action {
	cp := *a
	return &cp
}

func (a *queueDownloadAction) Run(x *Context, c *Cmd, input string) {
	remote := x.Expand(c, a.remote, input)
	local := x.Expand(c, a.local, input)
	if local == "" {
		local = path.Base(remote)
	}
	if x.env.Run != nil {
		x.env.Run.AddPendingDownload(x.env.Host.Alias, remote, local, a.maxSize)
	}
	x.Next(c, input)
}

// queueDeleteAction registers a remote path removed at the end of the stage.
type queueDeleteAction struct {
	remote string
}

func newQueueDeleteAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing path")
	}
	return &queueDeleteAction{remote: arg}, nil
}

func (a *queueDeleteAction) Kind() string { return KindQueueDelete }
func (a *queueDeleteAction) Arg() string  { return a.remote }
func (a *queueDeleteAction) Copy() Action { return &queueDeleteAction{remote: a.remote} }

func (a *queueDeleteAction) Run(x *Context, c *Cmd, input string) {
	if x.env.Run != nil {
		x.env.Run.AddPendingDelete(x.env.Host.Alias, x.Expand(c, a.remote, input))
	}
	x.Next(c, input)
}

// ctrlCAction interrupts the command running in the host shell.
type ctrlCAction struct{}

func (*ctrlCAction) Kind() string { return KindCtrlC }
func (*ctrlCAction) Arg() string  { return "" }
func (*ctrlCAction) Copy() Action { return &ctrlCAction{} }

func (*ctrlCAction) Run(x *Context, c *Cmd, input string) {
	if !x.session() {
		return
	}
	if err := x.env.Session.Interrupt(); err != nil {
		x.Error(fmt.Sprintf("ctrl-c: %v", err))
	}
	x.Next(c, input)
}

// DefaultReconnectTimeout bounds reconnect attempts when no timeout is given.
const DefaultReconnectTimeout = 5 * time.Minute

// reconnectAction reopens the session, for example after a reboot.
type reconnectAction struct {
	timeout string
}

func newReconnectAction(arg string, _ Flags) (Action, error) {
	if arg != "" && !strings.Contains(arg, "${{") {
		if _, err := ParseDuration(arg); err != nil {
			return nil, err
		}
	}
	return &reconnectAction{timeout: arg}, nil
}

func (a *reconnectAction) Kind() string { return KindReconnect }
func (a *reconnectAction) Arg() string  { return a.timeout }
func (a *reconnectAction) Copy() Action { return &reconnectAction{timeout: a.timeout} }

func (a *reconnectAction) Run(x *Context, c *Cmd, input string) {
	if !x.session() {
		return
	}
	timeout := DefaultReconnectTimeout
	if a.timeout != "" {
		d, err := ParseDuration(x.Expand(c, a.timeout, input))
		if err != nil {
			x.Abort(fmt.Sprintf("reconnect: %v", err), false)
			return
		}
		timeout = d
	}
	sess := x.env.Session
	_ = sess.Close()

	policy := backoff.NewExponentialBackoffPolicy(time.Second)
	policy.MaxElapsed = timeout
	err := backoff.Retry(x.ctx, func(ctx context.Context) error {
		return sess.Connect(ctx)
	}, policy, nil)
	if err != nil {
		x.Abort(fmt.Sprintf("reconnect to %s failed: %v", x.env.Host.Name(), err), false)
		return
	}
	logger.Info(x.ctx, "Reconnected")
	x.Next(c, input)
}

// ParseSize parses a byte count with an optional K, M or G suffix.
func ParseSize(s string) (int64, error) {
	raw := s
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")
	mult := int64(1)
	if s != "" {
		switch s[len(s)-1] {
		case 'K':
			mult = 1 << 10
		case 'M':
			mult = 1 << 20
		case 'G':
			mult = 1 << 30
		}
		if mult > 1 {
			s = s[:len(s)-1]
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * mult, nil
}
