// Package cli implements the CLI subprocess transport. It is the only
// transport that does not support streaming.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/utcp-go/utcp/jsonutil"
	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/tool"
	"github.com/utcp-go/utcp/transport"
	"github.com/utcp-go/utcp/utcperr"
)

// Transport spawns one subprocess per call; discovery and invocation both
// run the configured command and parse its stdout.
type Transport struct {
	logger  func(format string, args ...interface{})
	timeout time.Duration
}

func nopLogger(string, ...interface{}) {}

func New(logger func(format string, args ...interface{})) *Transport {
	if logger == nil {
		logger = nopLogger
	}
	return &Transport{logger: logger, timeout: 30 * time.Second}
}

func (t *Transport) Name() string            { return "cli" }
func (t *Transport) SupportsStreaming() bool { return false }

func (t *Transport) cliProvider(p provider.Provider) (*provider.CLIProvider, error) {
	cp, ok := p.(*provider.CLIProvider)
	if !ok {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "cli transport requires a CLIProvider"}
	}
	if cp.Command == "" {
		return nil, &utcperr.InvalidProvider{Name: p.ProviderName(), Reason: "command must not be empty"}
	}
	return cp, nil
}

func (t *Transport) env(cp *provider.CLIProvider) []string {
	env := os.Environ()
	for k, v := range cp.EnvVars {
		env = append(env, k+"="+v)
	}
	return env
}

// shellMeta flags characters that have no business in a single argv slot
// once we're already bypassing the shell; their presence means upstream
// variable substitution produced something designed to break out of argv.
const shellMeta = ";&|`$(){}<>\n"

func validateArg(a string) error {
	if strings.ContainsAny(a, shellMeta) {
		return &utcperr.CommandInjection{Argument: a}
	}
	return nil
}

func validateWorkingDir(dir string) error {
	if dir == "" {
		return nil
	}
	if strings.Contains(dir, "..") {
		return &utcperr.PathTraversal{Path: dir}
	}
	return nil
}

func (t *Transport) run(ctx context.Context, cp *provider.CLIProvider, extraArgs []string) (stdout, stderr string, exitCode int, err error) {
	if err := validateWorkingDir(cp.WorkingDir); err != nil {
		return "", "", 0, err
	}
	for _, a := range extraArgs {
		if err := validateArg(a); err != nil {
			return "", "", 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := append(append([]string{}, cp.Args...), extraArgs...)
	cmd := exec.CommandContext(ctx, cp.Command, args...)
	cmd.Env = t.env(cp)
	if cp.WorkingDir != "" {
		cmd.Dir = cp.WorkingDir
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	code := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
		runErr = nil
	}
	return outBuf.String(), errBuf.String(), code, runErr
}

// formatArgs converts a call's argument map into CLI flags: booleans become
// bare --flag switches, slices repeat --flag per element, everything else
// becomes --flag value.
func formatArgs(args map[string]any) []string {
	var out []string
	for k, v := range args {
		switch val := v.(type) {
		case bool:
			if val {
				out = append(out, "--"+k)
			}
		case []interface{}:
			for _, item := range val {
				out = append(out, "--"+k, fmt.Sprint(item))
			}
		default:
			out = append(out, "--"+k, fmt.Sprint(val))
		}
	}
	return out
}

func (t *Transport) Register(ctx context.Context, p provider.Provider) ([]tool.Tool, error) {
	cp, err := t.cliProvider(p)
	if err != nil {
		return nil, err
	}
	stdout, stderr, code, err := t.run(ctx, cp, []string{"--utcp-discover"})
	if err != nil {
		return nil, &utcperr.ConnectFailed{Target: cp.Command, Err: err}
	}
	output := stdout
	if code != 0 {
		output = stderr
	}
	if strings.TrimSpace(output) == "" {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := jsonutil.Unmarshal([]byte(strings.TrimSpace(output)), &raw); err != nil {
		return nil, &utcperr.DecodeFailed{Err: err}
	}
	return tool.ManualFromMap(raw).Tools, nil
}

func (t *Transport) Deregister(ctx context.Context, p provider.Provider) error {
	return nil
}

func (t *Transport) Call(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (any, error) {
	cp, err := t.cliProvider(p)
	if err != nil {
		return nil, err
	}
	stdout, stderr, code, err := t.run(ctx, cp, formatArgs(args))
	output := stdout
	if err != nil {
		t.logger("cli tool %s failed: %v", toolName, err)
		return nil, &utcperr.ConnectFailed{Target: cp.Command, Err: err}
	}
	if code != 0 {
		output = stderr
		t.logger("cli tool %s exited with code %d", toolName, code)
	}
	if strings.TrimSpace(output) == "" {
		return "", nil
	}
	var result interface{}
	if err := jsonutil.Unmarshal([]byte(strings.TrimSpace(output)), &result); err == nil {
		return result, nil
	}
	return strings.TrimSpace(output), nil
}

func (t *Transport) CallStream(ctx context.Context, toolName string, args map[string]any, p provider.Provider) (transport.StreamResult, error) {
	return nil, fmt.Errorf("cli transport does not support streaming")
}
