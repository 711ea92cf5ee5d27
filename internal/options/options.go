// Package options holds the schema of the custom submission fields a
// conference defines, and parses imported values for them.
package options

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Type string

const (
	TypeCheckbox Type = "checkbox"
	TypeNumeric  Type = "numeric"
	TypeText     Type = "text"
	TypeSelector Type = "selector"
	TypeDocument Type = "document"
)

type Option struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	JSONKey string   `yaml:"json_key"`
	Abbr    string   `yaml:"abbr"`
	Type    Type     `yaml:"type"`
	Choices []string `yaml:"choices"`
	// Final options only accept values once the submission is accepted.
	Final bool `yaml:"final"`
}

func (o Option) IsDocument() bool {
	return o.Type == TypeDocument
}

// Registry is immutable once built.
type Registry struct {
	options []Option
	byID    map[int]int
}

type schemaFile struct {
	Options []Option `yaml:"options"`
}

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

func keyFromName(name string) string {
	return strings.Trim(nonKeyChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

func NewRegistry(opts []Option) (*Registry, error) {
	r := &Registry{byID: make(map[int]int, len(opts))}
	keys := make(map[string]int, len(opts))
	for _, opt := range opts {
		if opt.ID <= 0 {
			return nil, fmt.Errorf("option %q: id must be positive", opt.Name)
		}
		if _, ok := r.byID[opt.ID]; ok {
			return nil, fmt.Errorf("option %d: duplicate id", opt.ID)
		}
		opt.Name = strings.TrimSpace(opt.Name)
		if opt.Name == "" {
			return nil, fmt.Errorf("option %d: name required", opt.ID)
		}
		if opt.JSONKey == "" {
			opt.JSONKey = keyFromName(opt.Name)
		}
		if other, ok := keys[opt.JSONKey]; ok {
			return nil, fmt.Errorf("option %d: json key %q already used by option %d", opt.ID, opt.JSONKey, other)
		}
		keys[opt.JSONKey] = opt.ID
		switch opt.Type {
		case TypeCheckbox, TypeNumeric, TypeText, TypeDocument:
		case TypeSelector:
			if len(opt.Choices) == 0 {
				return nil, fmt.Errorf("option %d: selector needs choices", opt.ID)
			}
		case "":
			opt.Type = TypeCheckbox
		default:
			return nil, fmt.Errorf("option %d: unknown type %q", opt.ID, opt.Type)
		}
		r.options = append(r.options, opt)
	}
	sort.Slice(r.options, func(i, j int) bool { return r.options[i].ID < r.options[j].ID })
	for i, opt := range r.options {
		r.byID[opt.ID] = i
	}
	return r, nil
}

// Load reads a YAML schema file. An empty path yields an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options file: %w", err)
	}
	var file schemaFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("parse options file: %w", err)
	}
	return NewRegistry(file.Options)
}

func (r *Registry) All() []Option {
	out := make([]Option, len(r.options))
	copy(out, r.options)
	return out
}

func (r *Registry) ByID(id int) (Option, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Option{}, false
	}
	return r.options[i], true
}

// Find resolves an input key to options. Numeric keys match ids; otherwise
// the first non-empty tier wins: JSON key, abbreviation, then name, all
// compared case-insensitively. More than one result means the key is
// ambiguous.
func (r *Registry) Find(key string) []Option {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if id, err := strconv.Atoi(key); err == nil {
		if opt, ok := r.ByID(id); ok {
			return []Option{opt}
		}
		return nil
	}
	tiers := []func(Option) string{
		func(o Option) string { return o.JSONKey },
		func(o Option) string { return o.Abbr },
		func(o Option) string { return o.Name },
	}
	for _, field := range tiers {
		var matches []Option
		for _, opt := range r.options {
			if v := field(opt); v != "" && strings.EqualFold(v, key) {
				matches = append(matches, opt)
			}
		}
		if len(matches) > 0 {
			return matches
		}
	}
	return nil
}
