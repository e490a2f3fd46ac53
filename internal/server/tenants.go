package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultTenantsPath = "config/tenants.yaml"

type Tenant struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type tenantsFile struct {
	Version int      `yaml:"version"`
	Tenants []Tenant `yaml:"tenants"`
}

// Tenants is the set of tenants the server accepts, keyed by id.
type Tenants map[string]Tenant

func (ts Tenants) Lookup(id string) (Tenant, bool) {
	t, ok := ts[strings.ToLower(strings.TrimSpace(id))]
	return t, ok
}

func ParseTenantsYAML(b []byte) (Tenants, error) {
	var tf tenantsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, err
	}
	if tf.Version != 1 {
		return nil, errors.New("tenants: unsupported version")
	}
	if len(tf.Tenants) == 0 {
		return nil, errors.New("tenants: empty")
	}

	m := make(Tenants, len(tf.Tenants))
	for _, t := range tf.Tenants {
		t.ID = strings.ToLower(strings.TrimSpace(t.ID))
		if t.ID == "" {
			return nil, errors.New("tenants: invalid tenant")
		}
		if _, dup := m[t.ID]; dup {
			return nil, errors.New("tenants: duplicate tenant " + t.ID)
		}
		m[t.ID] = t
	}
	return m, nil
}

// LoadTenants reads path, or config/tenants.yaml found by walking up from the
// working directory when path is empty.
func LoadTenants(path string) (Tenants, error) {
	if path == "" {
		p, err := defaultTenantsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTenantsYAML(b)
}

func defaultTenantsPath() (string, error) {
	path := DefaultTenantsPath
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: tenants config not found")
}
