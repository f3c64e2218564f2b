package provider

// CLIProvider describes a local subprocess whose stdin/stdout speak the
// UTCP CLI JSON protocol. CLI providers never carry credentials of their
// own; any secret material flows through EnvVars.
type CLIProvider struct {
	Base
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	EnvVars    map[string]string `json:"env_vars,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
}

func NewCLIProvider(name, command string) *CLIProvider {
	return &CLIProvider{Base: Base{Name: name, Kind: KindCLI}, Command: command}
}
