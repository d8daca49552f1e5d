package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/pagebridge/internal/jsval"
)

// readArgs decodes a YAML sequence into positional arguments. Mappings keep
// their document order; a null entry stays null.
func readArgs(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read args: %w", err)
	}

	var raw []any
	if err := yaml.UnmarshalWithOptions(data, &raw, yaml.UseOrderedMap()); err != nil {
		return nil, fmt.Errorf("parse args %s: %w", path, err)
	}

	args := make([]any, len(raw))
	for i, v := range raw {
		args[i] = fromYAML(v)
	}
	return args, nil
}

func fromYAML(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		obj := jsval.NewObject()
		for _, item := range t {
			obj.Set(fmt.Sprint(item.Key), fromYAML(item.Value))
		}
		return obj
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromYAML(e)
		}
		return out
	default:
		return v
	}
}
