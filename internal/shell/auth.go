package shell

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/dagucloud/herd/internal/cmn/fileutil"
	"github.com/dagucloud/herd/internal/core"
)

// authMethod picks the host key, the configured default key, a key from
// ~/.ssh, then the host password, in that order.
func authMethod(host core.Host, cfg Config) (ssh.AuthMethod, error) {
	keyPath, err := resolveKeyPath(host, cfg)
	if err != nil {
		return nil, err
	}

	if keyPath != "" {
		signer, err := getPublicKeySigner(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
		}
		return ssh.PublicKeys(signer), nil
	}

	if host.Password != "" {
		return ssh.Password(host.Password), nil
	}

	return nil, fmt.Errorf("no authentication method available for %s: provide either SSH key or password", host.Name())
}

func resolveKeyPath(host core.Host, cfg Config) (string, error) {
	if host.Key != "" {
		return fileutil.ResolvePath(host.Key)
	}

	if host.Password != "" {
		return "", nil
	}

	if cfg.Key != "" {
		return fileutil.ResolvePath(cfg.Key)
	}

	for _, defaultKey := range defaultSSHKeys() {
		if _, err := os.Stat(defaultKey); err == nil {
			return defaultKey, nil
		}
	}

	return "", fmt.Errorf("no SSH key specified and no default keys found (~/.ssh/id_rsa, id_ecdsa, id_ed25519, or id_dsa)")
}

func defaultSSHKeys() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{}
	}

	sshDir := filepath.Join(home, ".ssh")
	return []string{
		filepath.Join(sshDir, "id_rsa"),
		filepath.Join(sshDir, "id_ecdsa"),
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_dsa"),
	}
}

func getPublicKeySigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

func hostKeyCallback(strict bool, knownHostFile string) (ssh.HostKeyCallback, error) {
	if !strict {
		return ssh.InsecureIgnoreHostKey(), nil // nolint: gosec
	}

	if knownHostFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		knownHostFile = filepath.Join(home, ".ssh", "known_hosts")
	}

	knownHostFile, err := fileutil.ResolvePath(knownHostFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve known_hosts path: %w", err)
	}

	return knownhosts.New(knownHostFile)
}
