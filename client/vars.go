package client

import (
	"os"
	"regexp"
)

var varPattern = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

// getVariable checks inline config, then each loader in order, then the
// process environment.
func (c *Client) getVariable(key string) (string, error) {
	if v, ok := c.config.Variables[key]; ok {
		return v, nil
	}
	for _, loader := range c.config.LoadVariablesFrom {
		if v, err := loader.Get(key); err == nil && v != "" {
			return v, nil
		}
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", errVariableNotFound(key)
}

// substituteString replaces every ${VAR}/$VAR placeholder it can resolve,
// leaving unresolved placeholders untouched.
func (c *Client) substituteString(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		val, err := c.getVariable(name)
		if err != nil {
			return match
		}
		return val
	})
}

// substituteAny walks strings, maps, and slices produced by decoding a
// provider record into map[string]any, substituting variables wherever a
// string value (or map key's string value) appears.
func (c *Client) substituteAny(x any) any {
	switch v := x.(type) {
	case string:
		return c.substituteString(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = c.substituteAny(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = c.substituteAny(e)
		}
		return out
	default:
		return x
	}
}
