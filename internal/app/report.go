package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteReport writes v to path as JSON when the extension is .json and as
// YAML otherwise.
func WriteReport(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	var (
		raw []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raw, err = json.MarshalIndent(v, "", "  ")
		raw = append(raw, '\n')
	default:
		raw, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}
