// Package secretstore provides read access to signing key material. Secrets
// are resolved from the environment first and a directory of files second;
// rotation is an operational concern handled outside the process.
package secretstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store reads named secrets.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// EnvFileStore resolves a secret from the SECRET_<NAME> environment variable,
// falling back to <dir>/<name> when a directory is configured.
type EnvFileStore struct {
	dir string
}

// New creates a store. dir may be empty for env-only resolution.
func New(dir string) *EnvFileStore {
	return &EnvFileStore{dir: dir}
}

func (s *EnvFileStore) Get(_ context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("secret name is required")
	}
	envKey := "SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", ":", "_", "/", "_").Replace(name))
	if v, ok := os.LookupEnv(envKey); ok {
		return []byte(v), nil
	}
	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, filepath.Clean(name)))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secret %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("secret %s not found", name)
}
