package main

import (
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"
)

// yamlParser is an ff.ConfigFileParser. Top-level keys are flag names; lists set the
// flag once per element and nested maps are rejected.
func yamlParser(r io.Reader, set func(name, value string) error) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("parse yaml config: %w", err)
	}

	for name, raw := range doc {
		values, err := yamlValues(name, raw)
		if err != nil {
			return err
		}
		for _, v := range values {
			if err := set(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func yamlValues(name string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := yamlScalar(name, item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, err := yamlScalar(name, v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func yamlScalar(name string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("config key %q: unsupported value of type %T", name, raw)
	}
}
