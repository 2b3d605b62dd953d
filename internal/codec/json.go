package codec

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// ContentType returns the HTTP content type
func (c *JSONCodec) ContentType() string {
	return "application/json"
}

// Parse imports preferences from JSON
func (c *JSONCodec) Parse(r io.Reader) (Preferences, error) {
	var prefs Preferences
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&prefs); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return normalize(prefs)
}

// Export exports preferences to JSON
func (c *JSONCodec) Export(prefs Preferences, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(prefs); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
