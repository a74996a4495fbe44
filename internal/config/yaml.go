package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// configFormat picks the decoder from the file extension. scibot.yaml and
// scibot.yml are YAML; .json or no extension is JSON.
func configFormat(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json", "":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported config extension %q", ext)
	}
}

// yamlToJSON re-encodes a single YAML document as JSON so YAML configs go
// through the strict JSON decoder. A second document is rejected the same
// way trailing JSON data is.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("more than one document")
		}
		return nil, err
	}
	return json.Marshal(jsonValue(doc))
}

// jsonValue stringifies mapping keys; json.Marshal rejects map[any]any, which
// yaml produces for keys like `1:` or `true:`.
func jsonValue(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = jsonValue(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = jsonValue(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = jsonValue(x[i])
		}
		return x
	default:
		return in
	}
}
