package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// timeLayout stores timestamps as sortable UTC text.
const timeLayout = time.RFC3339Nano

// marshalConfig converts the reducer config to canonical JSON TEXT.
// Uses RFC 8785 canonical JSON so equal configs store equal bytes.
func marshalConfig(cfg state.Config) (string, error) {
	data, err := ir.MarshalCanonical(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// unmarshalConfig parses config TEXT. An empty value is the zero config.
func unmarshalConfig(data string) (state.Config, error) {
	var cfg state.Config
	if data == "" || data == "{}" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
