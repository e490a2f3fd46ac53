package routing

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultAllowlistPath = "config/routing/allowlist.yaml"

// Allowlist is the registry of every route an entrypoint serves, together with
// the authorization object and action each route requires.
type Allowlist struct {
	Version     int                   `yaml:"version"`
	Entrypoints map[string]Entrypoint `yaml:"entrypoints"`
}

type Entrypoint struct {
	Routes []Route `yaml:"routes"`
}

type Route struct {
	Path       string   `yaml:"path"`
	Methods    []string `yaml:"methods"`
	RouteClass string   `yaml:"route_class"`
	// Object and Action are required for public_api routes; ops routes carry neither.
	Object string `yaml:"object,omitempty"`
	Action string `yaml:"action,omitempty"`
}

func ParseAllowlistYAML(b []byte) (Allowlist, error) {
	var a Allowlist
	if err := yaml.Unmarshal(b, &a); err != nil {
		return Allowlist{}, err
	}
	if a.Version != 1 {
		return Allowlist{}, errors.New("allowlist: unsupported version")
	}
	if a.Entrypoints == nil {
		return Allowlist{}, errors.New("allowlist: missing entrypoints")
	}
	for name, ep := range a.Entrypoints {
		for _, r := range ep.Routes {
			if RouteClass(r.RouteClass) == RouteClassPublicAPI && (strings.TrimSpace(r.Object) == "" || strings.TrimSpace(r.Action) == "") {
				return Allowlist{}, errors.New("allowlist: " + name + " " + r.Path + " has no object/action")
			}
		}
	}
	return a, nil
}

// LoadAllowlist reads path, or the default allowlist found by walking up from
// the working directory when path is empty.
func LoadAllowlist(path string) (Allowlist, error) {
	if path == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return Allowlist{}, err
		}
		path = p
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Allowlist{}, err
	}
	return ParseAllowlistYAML(b)
}

func defaultAllowlistPath() (string, error) {
	path := DefaultAllowlistPath
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("routing: allowlist not found")
}
