package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads a property file. Files ending in .yaml or .yml are parsed as
// YAML; anything else uses the key=value format.
func Load(path string) (Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening config")
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return Parse(f)
	}
}

// Parse reads key=value lines. Blank lines and lines starting with ';' or
// '#' are skipped; trailing ';' comments are stripped.
func Parse(r io.Reader) (Properties, error) {
	props := Properties{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '=' in %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		props[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return props, nil
}

// ParseYAML reads a YAML mapping and flattens nested mappings into dotted keys.
func ParseYAML(r io.Reader) (Properties, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Properties{}, nil
		}
		return nil, errors.Wrap(err, "decoding yaml config")
	}
	props := Properties{}
	flatten(props, "", doc)
	return props, nil
}

func flatten(props Properties, prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(props, key, val)
		case nil:
			props[key] = ""
		default:
			props[key] = fmt.Sprint(val)
		}
	}
}
