// Package codec imports and exports persisted view preferences.
package codec

import (
	"fmt"
	"io"
	"strings"

	"monview/internal/domain"
)

// Preferences maps machine IDs to their view preference
type Preferences map[string]domain.ViewPreference

// Importer interface for importing preferences from various formats
type Importer interface {
	Parse(r io.Reader) (Preferences, error)
	Format() string
}

// Exporter interface for exporting preferences to various formats
type Exporter interface {
	Export(prefs Preferences, w io.Writer) error
	Format() string
}

// Codec both imports and exports
type Codec interface {
	Importer
	Exporter
	ContentType() string
}

// ForFormat returns the codec for a format name
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// normalize fills in what an imported document may leave out
func normalize(prefs Preferences) (Preferences, error) {
	out := make(Preferences, len(prefs))
	for id, p := range prefs {
		if id == "" {
			return nil, fmt.Errorf("preference without machine id")
		}
		p = p.Clone()
		if p.TimeWindow == "" {
			p.TimeWindow = domain.DefaultTimeWindow
		}
		for key, gp := range p.Graphs {
			if gp.Index < 0 {
				return nil, fmt.Errorf("machine %s: graph %s has negative index", id, key)
			}
		}
		out[id] = p
	}
	return out, nil
}
