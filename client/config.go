package client

import (
	"os"

	"github.com/joho/godotenv"
)

// VariableLoader resolves a named variable from some external source,
// consulted after inline config.Variables and before os.Getenv.
type VariableLoader interface {
	Get(key string) (string, error)
}

// EnvFileLoader reads a dotenv file once at construction and serves
// lookups from the parsed map, mirroring the teacher's "load then check"
// variable-resolution order.
type EnvFileLoader struct {
	values map[string]string
}

// NewEnvFileLoader parses path with godotenv. A missing file is not an
// error: callers may point at an optional ".env" that simply isn't there.
func NewEnvFileLoader(path string) (*EnvFileLoader, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &EnvFileLoader{values: map[string]string{}}, nil
		}
		return nil, err
	}
	return &EnvFileLoader{values: values}, nil
}

func (l *EnvFileLoader) Get(key string) (string, error) {
	if v, ok := l.values[key]; ok {
		return v, nil
	}
	return "", errVariableNotFound(key)
}

// Config holds the orchestrator's construction-time options.
type Config struct {
	// ProvidersFilePath, if set, is a JSON array of provider records
	// loaded and registered at construction time.
	ProvidersFilePath string

	// Variables are substituted first, ahead of LoadVariablesFrom and the
	// process environment.
	Variables map[string]string

	// LoadVariablesFrom is consulted in order after Variables and before
	// os.Getenv.
	LoadVariablesFrom []VariableLoader
}

func NewConfig() *Config {
	return &Config{Variables: make(map[string]string)}
}
