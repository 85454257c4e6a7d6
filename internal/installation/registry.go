package installation

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed installations.yaml
var defaultRecipes []byte

type file struct {
	Installations []Recipe `yaml:"installations"`
}

// Registry holds the known installations, keyed by id.
type Registry struct {
	byID map[string]Recipe
}

// Parse decodes and validates a recipe file.
func Parse(raw []byte) ([]Recipe, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse installations: %w", err)
	}
	for _, r := range f.Installations {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("installation invalid: %w", err)
		}
	}
	return f.Installations, nil
}

// Default returns the built-in installations.
func Default() (*Registry, error) {
	recipes, err := Parse(defaultRecipes)
	if err != nil {
		return nil, err
	}
	reg := &Registry{byID: make(map[string]Recipe, len(recipes))}
	reg.Merge(recipes)
	return reg, nil
}

// Load returns the built-in installations overlaid with the entries of the
// YAML file at path. An entry with a known id replaces the built-in one.
func Load(path string) (*Registry, error) {
	reg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	overrides, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	reg.Merge(overrides)
	return reg, nil
}

func (r *Registry) Merge(recipes []Recipe) {
	for _, rc := range recipes {
		r.byID[rc.ID] = rc
	}
}

// Lookup finds an installation by id ("B0933") or display name
// ("B0933 - Dommel").
func (r *Registry) Lookup(key string) (Recipe, error) {
	key = strings.TrimSpace(key)
	if rc, ok := r.byID[key]; ok {
		return rc, nil
	}
	for _, rc := range r.byID {
		if strings.EqualFold(rc.ID, key) || rc.Name == key {
			return rc, nil
		}
	}
	return Recipe{}, fmt.Errorf("unknown installation %q", key)
}

// All returns the installations sorted by id.
func (r *Registry) All() []Recipe {
	out := make([]Recipe, 0, len(r.byID))
	for _, rc := range r.byID {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
