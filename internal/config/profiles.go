// Package config loads named processing profiles from YAML. A profile is a
// partial set of pipeline options layered under whatever the caller set
// explicitly.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/scanmerge/internal/pipeline"
)

//go:embed profiles.yaml
var builtin []byte

// DefaultProfile is used by front-ends that always start from a profile.
const DefaultProfile = "document"

var ErrUnknownProfile = errors.New("unknown profile")

// Profiles is a parsed profiles file.
type Profiles struct {
	byName map[string]yaml.Node
}

// Builtin returns the profiles shipped with the binary.
func Builtin() (*Profiles, error) {
	return Parse(builtin)
}

// LoadFile reads a profiles file, or the built-in set when path is empty.
func LoadFile(path string) (*Profiles, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document mapping profile names to option sets and
// rejects keys that are not pipeline options.
func Parse(data []byte) (*Profiles, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}
	known := optionKeys()
	for name, node := range raw {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("profile %q: expected a mapping", name)
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			if key := Key(node.Content[i].Value); !known[key] {
				return nil, fmt.Errorf("profile %q: unknown option %q", name, node.Content[i].Value)
			}
		}
	}
	return &Profiles{byName: raw}, nil
}

// Names lists the profiles in alphabetical order.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply decodes profile name onto opts, skipping every option whose key is in
// explicit. Keys may be given in flag (kebab) or YAML (snake) form.
func (p *Profiles) Apply(name string, opts *pipeline.Options, explicit map[string]bool) error {
	node, ok := p.byName[name]
	if !ok {
		return fmt.Errorf("%w %q (available: %s)", ErrUnknownProfile, name, strings.Join(p.Names(), ", "))
	}
	skip := make(map[string]bool, len(explicit))
	for k, v := range explicit {
		if v {
			skip[Key(k)] = true
		}
	}
	layer := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := Key(node.Content[i].Value)
		if skip[key] {
			continue
		}
		layer.Content = append(layer.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			node.Content[i+1],
		)
	}
	if err := layer.Decode(opts); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	return nil
}

// Overlay sets the options named in values on opts and returns the set of keys
// it touched, ready to pass to Apply as the explicit set.
func Overlay(opts *pipeline.Options, values map[string]any) (map[string]bool, error) {
	explicit := make(map[string]bool, len(values))
	if len(values) == 0 {
		return explicit, nil
	}
	known := optionKeys()
	normalised := make(map[string]any, len(values))
	for k, v := range values {
		key := Key(k)
		if !known[key] {
			return nil, fmt.Errorf("unknown option %q", k)
		}
		normalised[key] = v
		explicit[key] = true
	}
	data, err := yaml.Marshal(normalised)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	return explicit, nil
}

// Key normalises an option or flag name to its YAML key.
func Key(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

func optionKeys() map[string]bool {
	keys := map[string]bool{}
	t := reflect.TypeOf(pipeline.Options{})
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag != "" && tag != "-" {
			keys[tag] = true
		}
	}
	return keys
}
