// Package config loads CLI defaults from a YAML file.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAML is a kong.ConfigurationLoader reading flag values from a YAML document.
//
// Keys match flag names with "-" replaced by "_", nested maps are addressed with
// dots so a flag named "serve.listen" can live under a serve: block.
//
//	api_url: https://fakestoreapi.com
//	serve:
//	  listen: localhost:8080
func YAML(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var f kong.ResolverFunc = func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		raw, ok := lookup(values, strings.ReplaceAll(flag.Name, "-", "_"))
		if !ok {
			return nil, nil
		}
		return stringify(raw), nil
	}

	return f, nil
}

func lookup(values map[string]any, name string) (any, bool) {
	if raw, ok := values[name]; ok {
		return raw, true
	}

	var raw any = values
	for _, part := range strings.Split(name, ".") {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, false
		}
		if raw, ok = m[part]; !ok {
			return nil, false
		}
	}
	return raw, true
}

// stringify flattens YAML scalars and sequences into the text kong parses from
// the command line.
func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
