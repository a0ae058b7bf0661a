package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrTemplateNotFound is returned for an unknown workflow template name.
var ErrTemplateNotFound = errors.New("workflow template not found")

// Source resolves workflow templates by name.
type Source interface {
	Template(name string) (json.RawMessage, error)
}

// Registry is an in-memory, name-keyed set of workflow templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]json.RawMessage
}

func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]json.RawMessage)}
}

// LoadDir builds a registry from every .json, .yaml and .yml file in dir. The
// template name is the file name without its extension.
func LoadDir(dir string) (*Registry, error) {
	reg := NewRegistry()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("workflow: read %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if ext == ".json" {
			err = reg.Register(name, data)
		} else {
			err = reg.RegisterYAML(name, data)
		}
		if err != nil {
			return nil, fmt.Errorf("workflow: load %s: %w", entry.Name(), err)
		}
	}
	return reg, nil
}

// Register stores a JSON template under name, replacing any previous one.
func (r *Registry) Register(name string, raw []byte) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("template name is required")
	}
	if !json.Valid(raw) {
		return ErrInvalidTemplate
	}
	r.mu.Lock()
	r.templates[name] = append(json.RawMessage(nil), raw...)
	r.mu.Unlock()
	return nil
}

// RegisterYAML converts a YAML document to JSON and registers it.
func (r *Registry) RegisterYAML(name string, raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	converted, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return r.Register(name, converted)
}

// Template returns a copy of the named template.
func (r *Registry) Template(name string) (json.RawMessage, error) {
	r.mu.RLock()
	raw, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return append(json.RawMessage(nil), raw...), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// Names lists registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// normalizeYAML turns map[any]any nodes into map[string]any so the document
// can be encoded as JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

var _ Source = (*Registry)(nil)
