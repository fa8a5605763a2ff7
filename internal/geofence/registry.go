package geofence

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed hostels.yaml
var defaultHostels []byte

// Registry maps a hostel block name to its boundary.
type Registry struct {
	boundaries map[string]Boundary
}

type registryFile struct {
	// Shapes holds anchors shared between hostels; it is not read directly.
	Shapes  map[string]Boundary `yaml:"shapes"`
	Hostels []Boundary          `yaml:"hostels"`
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultHostels))
}

// LoadFile reads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hostels file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a YAML registry and validates every boundary.
func Load(r io.Reader) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode hostels: %w", err)
	}
	reg := &Registry{boundaries: make(map[string]Boundary, len(file.Hostels))}
	for _, b := range file.Hostels {
		if b.Name == "" {
			return nil, fmt.Errorf("hostel boundary without a name")
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("hostel %q: %w", b.Name, err)
		}
		if _, dup := reg.boundaries[b.Name]; dup {
			return nil, fmt.Errorf("hostel %q defined twice", b.Name)
		}
		reg.boundaries[b.Name] = b
	}
	return reg, nil
}

// NewRegistry builds a registry from boundaries already in memory.
func NewRegistry(bs ...Boundary) *Registry {
	reg := &Registry{boundaries: make(map[string]Boundary, len(bs))}
	for _, b := range bs {
		reg.boundaries[b.Name] = b
	}
	return reg
}

// Lookup returns the boundary for a hostel block.
func (r *Registry) Lookup(block string) (Boundary, bool) {
	if r == nil {
		return Boundary{}, false
	}
	b, ok := r.boundaries[block]
	return b, ok
}

// Names returns the configured hostel blocks in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.boundaries))
	for name := range r.boundaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
