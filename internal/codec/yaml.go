package codec

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// ContentType returns the HTTP content type
func (c *YAMLCodec) ContentType() string {
	return "application/yaml"
}

// yamlDocument wraps the preferences under a top-level key so the file is
// self-describing when edited by hand
type yamlDocument struct {
	Machines Preferences `yaml:"machines"`
}

// Parse imports preferences from YAML
func (c *YAMLCodec) Parse(r io.Reader) (Preferences, error) {
	var doc yamlDocument
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return normalize(doc.Machines)
}

// Export exports preferences to YAML
func (c *YAMLCodec) Export(prefs Preferences, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(yamlDocument{Machines: prefs}); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return encoder.Close()
}
