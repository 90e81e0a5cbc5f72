package config

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

// FlatParser parses the flat "dotted.key=value" format, one setting per
// line. Blank lines and lines starting with # are skipped.
type FlatParser struct{}

var _ koanf.Parser = FlatParser{}

// Unmarshal parses b into a nested map.
func (FlatParser) Unmarshal(b []byte) (map[string]any, error) {
	flat := make(map[string]any)

	sc := bufio.NewScanner(bytes.NewReader(b))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		key, value, ok := strings.Cut(text, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: line %d: expected key=value", ErrParse, line)
		}
		flat[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return maps.Unflatten(flat, "."), nil
}

// Marshal writes m as sorted key=value lines.
func (FlatParser) Marshal(m map[string]any) ([]byte, error) {
	flat, _ := maps.Flatten(m, nil, ".")

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%v\n", k, flat[k])
	}
	return buf.Bytes(), nil
}

// ParserFor picks the parser for a config file by extension: YAML for
// .yaml and .yml, the flat format for anything else.
func ParserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return FlatParser{}
	}
}
