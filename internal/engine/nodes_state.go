package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/state"
)

// setStateAction stores a value, the input by default.
type setStateAction struct {
	name     string
	value    string
	hasValue bool
}

func newSetStateAction(arg string, _ Flags) (Action, error) {
	name, value, ok := strings.Cut(arg, " ")
	if name == "" {
		return nil, errors.New("missing state name")
	}
	return &setStateAction{name: name, value: strings.TrimSpace(value), hasValue: ok}, nil
}

func (a *setStateAction) Kind() string { return KindSetState }

func (a *setStateAction) Arg() string {
	if a.hasValue {
		return a.name + " " + a.value
	}
	return a.name
}

func (a *setStateAction) Copy() Action {
	cp := *a
	return &cp
}

func (a *setStateAction) Run(x *Context, c *Cmd, input string) {
	name := x.Expand(c, a.name, input)
	value := input
	if a.hasValue {
		value = x.Expand(c, a.value, input)
	}
	x.state.Set(name, value)
	x.Next(c, input)
}

// readStateAction continues with the populated value, or misses when it is
// empty or unresolved.
type readStateAction struct {
	pattern string
}

func newReadStateAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing state name")
	}
	if !strings.Contains(arg, "${{") {
		arg = "${{" + arg + "}}"
	}
	return &readStateAction{pattern: arg}, nil
}

func (a *readStateAction) Kind() string { return KindReadState }
func (a *readStateAction) Arg() string  { return a.pattern }
func (a *readStateAction) Copy() Action { return &readStateAction{pattern: a.pattern} }

func (a *readStateAction) Run(x *Context, c *Cmd, input string) {
	value, residual := x.Populate(c, a.pattern, input)
	if len(residual) > 0 || value == "" {
		x.Miss(c, input)
		return
	}
	x.Next(c, value)
}

// regexAction matches the input. Named groups are stored in script state.
type regexAction struct {
	pattern string
	miss    bool
}

// patterns caches compiled expressions by their expanded text.
var patterns, _ = lru.New[string, *regexp.Regexp](256)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Add(pattern, re)
	return re, nil
}

func newRegexAction(arg string, flags Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing pattern")
	}
	if !strings.Contains(arg, "${{") {
		if _, err := regexp.Compile(arg); err != nil {
			return nil, err
		}
	}
	return &regexAction{pattern: arg, miss: flags.Miss}, nil
}

func (a *regexAction) Kind() string { return KindRegex }
func (a *regexAction) Arg() string  { return a.pattern }
func (a *regexAction) Copy() Action { return &regexAction{pattern: a.pattern, miss: a.miss} }

func (a *regexAction) Run(x *Context, c *Cmd, input string) {
	re, err := compilePattern(x.Expand(c, a.pattern, input))
	if err != nil {
		x.Error(fmt.Sprintf("invalid pattern %q: %v", a.pattern, err))
		x.Miss(c, input)
		return
	}
	m := re.FindStringSubmatch(input)
	if (m != nil) == a.miss {
		x.Miss(c, input)
		return
	}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(m) {
			x.state.Set(name, m[i])
		}
	}
	x.Next(c, input)
}

// jsonAction evaluates a jq query over the input.
type jsonAction struct {
	query string
}

func newJSONAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		arg = "."
	}
	return &jsonAction{query: arg}, nil
}

func (a *jsonAction) Kind() string { return KindJSON }
func (a *jsonAction) Arg() string  { return a.query }
func (a *jsonAction) Copy() Action { return &jsonAction{query: a.query} }

func (a *jsonAction) Run(x *Context, c *Cmd, input string) {
	var doc any
	if err := json.Unmarshal([]byte(input), &doc); err != nil {
		doc = input
	}
	results, err := state.EvalAll(x.Expand(c, a.query, input), doc)
	if err != nil {
		x.Error(err.Error())
		x.Miss(c, input)
		return
	}
	if isEmpty(results) {
		x.Miss(c, input)
		return
	}
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = state.Format(r)
	}
	x.Next(c, strings.Join(lines, "\n"))
}

func isEmpty(results []any) bool {
	if len(results) == 0 {
		return true
	}
	if len(results) == 1 {
		switch v := results[0].(type) {
		case nil:
			return true
		case bool:
			return !v
		}
	}
	return false
}

// echoAction prints, or logs, its text and passes the input through.
type echoAction struct {
	text string
	log  bool
}

func newEchoAction(log bool) Factory {
	return func(arg string, _ Flags) (Action, error) {
		return &echoAction{text: arg, log: log}, nil
	}
}

func (a *echoAction) Kind() string {
	if a.log {
		return KindLog
	}
	return KindEcho
}

func (a *echoAction) Arg() string  { return a.text }
func (a *echoAction) Copy() Action { return &echoAction{text: a.text, log: a.log} }

func (a *echoAction) Run(x *Context, c *Cmd, input string) {
	text := x.Expand(c, a.text, input)
	if a.log {
		logger.Info(x.ctx, x.env.filter(text))
	} else {
		x.Terminal(text)
	}
	x.Next(c, input)
}
