package loader

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/dagucloud/herd/internal/core"
)

type hostDefinition struct {
	Host      string `mapstructure:"host"`
	User      string `mapstructure:"user"`
	Port      string `mapstructure:"port"`
	Key       string `mapstructure:"key"`
	Password  string `mapstructure:"password"`
	Container string `mapstructure:"container"`
	Shell     string `mapstructure:"shell"`
}

func buildHost(alias string, raw any) (core.Host, error) {
	switch v := raw.(type) {
	case nil:
		return core.ParseHost(alias, "")
	case string:
		return core.ParseHost(alias, v)
	}

	def := new(hostDefinition)
	md, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{Result: def, WeaklyTypedInput: true, ErrorUnused: true},
	)
	if err != nil {
		return core.Host{}, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := md.Decode(raw); err != nil {
		return core.Host{}, fmt.Errorf("host %s: %w", alias, err)
	}

	var host core.Host
	switch {
	case def.Container != "":
		host, err = core.ParseHost(alias, "container://"+def.Container)
	case def.Host == "" || def.Host == "local":
		host, err = core.ParseHost(alias, "local")
	default:
		host, err = core.ParseHost(alias, def.Host)
	}
	if err != nil {
		return core.Host{}, err
	}

	if def.User != "" {
		host.User = def.User
	}
	if def.Port != "" && host.Kind == core.HostSSH {
		host.Port = def.Port
	}
	host.Key = def.Key
	host.Password = def.Password
	host.Shell = def.Shell
	return host, nil
}
