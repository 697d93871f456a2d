// Package manifest builds and writes Structurizr theme descriptors.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	FileName           = "theme.json"
	DefaultName        = "Custom Structurizr Theme"
	DefaultDescription = "A custom theme for Structurizr"
)

// Element associates a tag with an icon file relative to the theme.
type Element struct {
	Tag  string `json:"tag"`
	Icon string `json:"icon"`
}

// Theme is the theme.json document. Field order is the serialized key order.
type Theme struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Elements    []Element `json:"elements"`
}

// Tag derives the element tag for an icon file: underscores become spaces,
// the final extension is dropped and prefix is prepended with a slash.
func Tag(prefix, filename string) string {
	stem := strings.ReplaceAll(filename, "_", " ")
	if i := strings.LastIndex(stem, "."); i >= 0 {
		stem = stem[:i]
	}
	return prefix + "/" + stem
}

// Build creates a theme with one element per file, in order.
func Build(name, description, prefix string, files []string) *Theme {
	if name == "" {
		name = DefaultName
	}
	if description == "" {
		description = DefaultDescription
	}
	t := &Theme{
		Name:        name,
		Description: description,
		Elements:    make([]Element, 0, len(files)),
	}
	for _, f := range files {
		t.Elements = append(t.Elements, Element{Tag: Tag(prefix, f), Icon: f})
	}
	return t
}

// Marshal encodes the theme with two-space indentation and no HTML escaping.
func (t *Theme) Marshal() ([]byte, error) {
	if t.Elements == nil {
		t.Elements = []Element{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Write stores the theme as dir/theme.json, replacing any existing file,
// and returns the path written.
func Write(dir string, t *Theme) (string, error) {
	data, err := t.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal theme: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads a theme.json file.
func Read(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Theme
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &t, nil
}
