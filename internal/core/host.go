package core

import (
	"fmt"
	"net"
	"strings"
)

// HostKind selects the transport used to reach a host.
type HostKind string

const (
	HostSSH       HostKind = "ssh"
	HostLocal     HostKind = "local"
	HostContainer HostKind = "container"
)

const containerPrefix = "container://"

// Host is one target machine, shell, or container.
type Host struct {
	Alias     string
	Kind      HostKind
	User      string
	Hostname  string
	Port      string
	Key       string
	Password  string
	Container string
	Shell     string
}

// ParseHost parses the short forms accepted in host lists:
// "local", "container://<name>", and "[user@]host[:port]".
func ParseHost(alias, spec string) (Host, error) {
	spec = strings.TrimSpace(spec)
	h := Host{Alias: alias}
	switch {
	case spec == "" || spec == "local":
		h.Kind = HostLocal
		return h, nil
	case strings.HasPrefix(spec, containerPrefix):
		h.Kind = HostContainer
		h.Container = strings.TrimPrefix(spec, containerPrefix)
		if h.Container == "" {
			return Host{}, fmt.Errorf("%w: empty container name in %q", ErrInvalidHost, spec)
		}
		return h, nil
	}

	h.Kind = HostSSH
	if user, rest, ok := strings.Cut(spec, "@"); ok {
		h.User = user
		spec = rest
	}
	if host, port, err := net.SplitHostPort(spec); err == nil {
		h.Hostname, h.Port = host, port
	} else {
		h.Hostname = spec
	}
	if h.Hostname == "" {
		return Host{}, fmt.Errorf("%w: empty hostname in %q", ErrInvalidHost, spec)
	}
	if h.Port == "" {
		h.Port = "22"
	}
	return h, nil
}

func (h Host) String() string {
	switch h.Kind {
	case HostLocal:
		return "local"
	case HostContainer:
		return containerPrefix + h.Container
	}
	host := net.JoinHostPort(h.Hostname, h.Port)
	if h.User != "" {
		return h.User + "@" + host
	}
	return host
}

// Name returns the alias when set, otherwise the connection string.
func (h Host) Name() string {
	if h.Alias != "" {
		return h.Alias
	}
	return h.String()
}
