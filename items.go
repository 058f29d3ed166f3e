package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minios-linux/vitrans/translate"
	"gopkg.in/yaml.v3"
)

// Input and output formats for `vitrans translate`.
const (
	formatAuto = "auto"
	formatJSON = "json"
	formatYAML = "yaml"
	formatText = "text"
)

// itemFile is the object form of an item list: {"items": [...]}.
type itemFile struct {
	Items []translate.Item `json:"items" yaml:"items"`
}

// itemSet is what readItems loaded. For text input, lines keeps every input
// line so blank lines survive the round trip; item ids are 1-based line
// numbers.
type itemSet struct {
	format string
	items  []translate.Item
	lines  []string
}

// detectFormat picks a format from the file extension, or by sniffing the
// first non-blank byte for stdin and unknown extensions.
func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	case ".txt":
		return formatText
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return formatJSON
	}
	return formatText
}

// readItems loads items from path ("-" for stdin).
func readItems(path, format string, stdin io.Reader) (*itemSet, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}
	return parseItems(data, path, format)
}

func parseItems(data []byte, path, format string) (*itemSet, error) {
	if format == "" || format == formatAuto {
		format = detectFormat(path, data)
	}

	set := &itemSet{format: format}
	switch format {
	case formatJSON:
		var list []translate.Item
		if err := json.Unmarshal(data, &list); err != nil {
			var obj itemFile
			if objErr := json.Unmarshal(data, &obj); objErr != nil {
				return nil, fmt.Errorf("parsing JSON items: %w", err)
			}
			list = obj.Items
		}
		set.items = list
	case formatYAML:
		var list []translate.Item
		if err := yaml.Unmarshal(data, &list); err != nil {
			var obj itemFile
			if objErr := yaml.Unmarshal(data, &obj); objErr != nil {
				return nil, fmt.Errorf("parsing YAML items: %w", err)
			}
			list = obj.Items
		}
		set.items = list
	case formatText:
		text := strings.TrimSuffix(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
		if text != "" {
			set.lines = strings.Split(text, "\n")
		}
		for i, line := range set.lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			set.items = append(set.items, translate.Item{ID: strconv.Itoa(i + 1), Text: line})
		}
		return set, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want json, yaml or text)", format)
	}

	seen := make(map[string]bool, len(set.items))
	for i, it := range set.items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, fmt.Errorf("item %d has no id", i+1)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("duplicate item id %q", it.ID)
		}
		seen[it.ID] = true
	}
	return set, nil
}

// writePairs writes the translations in the input's format. Text output
// replaces each translated line and keeps the rest unchanged.
func writePairs(w io.Writer, set *itemSet, pairs []translate.Pair) error {
	if pairs == nil {
		pairs = []translate.Pair{}
	}
	switch set.format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(pairs); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
		byID := make(map[string]string, len(pairs))
		for _, p := range pairs {
			byID[p.ID] = p.Text
		}
		for i, line := range set.lines {
			if tr, ok := byID[strconv.Itoa(i+1)]; ok {
				line = tr
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	default:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(pairs)
	}
}
