package nodes

import (
	"fmt"
	"time"
)

func paramString(params map[string]any, name, fallback string) (string, error) {
	v, ok := params[name]
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %s: want string, got %T", name, v)
	}
	return s, nil
}

// paramInt accepts the integer forms TOML and JSON decoding produce.
func paramInt(params map[string]any, name string, fallback int) (int, error) {
	v, ok := params[name]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("param %s: want integer, got %v", name, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("param %s: want integer, got %T", name, v)
}

func paramStrings(params map[string]any, name string) ([]string, error) {
	v, ok := params[name]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("param %s: want strings, got %T", name, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("param %s: want list of strings, got %T", name, v)
}

func paramDuration(params map[string]any, name string, fallback time.Duration) (time.Duration, error) {
	raw, err := paramString(params, name, "")
	if err != nil || raw == "" {
		return fallback, err
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	return d, nil
}
