package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	dserrors "github.com/systmms/vaultconfig/internal/errors"
	"github.com/systmms/vaultconfig/internal/logging"
	"github.com/systmms/vaultconfig/internal/render"
	"github.com/systmms/vaultconfig/internal/secure"
)

// Executor runs commands with resolved properties in their environment
type Executor struct {
	logger *logging.Logger
}

// New creates a new executor
func New(logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		logger: logger,
	}
}

// ExecOptions configures command execution
type ExecOptions struct {
	Command           []string                        // Command and arguments to run
	Environment       map[string]string               // Variable names for display, values are masked
	SecureEnvironment map[string]*secure.SecureBuffer // Values handed to the child process
	AllowOverride     bool                            // Existing env vars win over resolved ones
	PrintVars         bool                            // Print resolved variables (values masked)
	WorkingDir        string                          // Working directory for the command
	Timeout           int                             // Timeout in seconds (0 for no timeout)
	Stdin             io.Reader                       // defaults to os.Stdin
	Stdout            io.Writer                       // defaults to os.Stdout
	Stderr            io.Writer                       // defaults to os.Stderr
}

// ExitError carries the exit status of a child that ran and failed
type ExitError struct {
	Command string
	Code    int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// SealEnvironment converts properties to environment variable names and
// seals each value. Callers own the returned buffers, see DestroyEnvironment.
func SealEnvironment(props map[string]string) (map[string]string, map[string]*secure.SecureBuffer, error) {
	env := render.EnvMap(props)
	sealed := make(map[string]*secure.SecureBuffer, len(env))
	for name, value := range env {
		buf, err := secure.NewSecureBufferFromString(value)
		if err != nil {
			DestroyEnvironment(sealed)
			return nil, nil, fmt.Errorf("failed to seal %s: %w", name, err)
		}
		sealed[name] = buf
	}
	return env, sealed, nil
}

// DestroyEnvironment drops all sealed values
func DestroyEnvironment(sealed map[string]*secure.SecureBuffer) {
	for _, buf := range sealed {
		buf.Destroy()
	}
}

// Exec runs a command with the provided environment variables. A child that
// exits non-zero yields an ExitError so the caller can mirror its status.
func (e *Executor) Exec(ctx context.Context, options ExecOptions) error {
	if len(options.Command) == 0 {
		return noCommand()
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(options.Timeout)*time.Second)
		defer cancel()
	}

	cmdName := options.Command[0]
	if _, err := exec.LookPath(cmdName); err != nil {
		return dserrors.WrapCommandNotFound(cmdName, err)
	}

	var (
		env []string
		err error
	)
	if options.SecureEnvironment != nil {
		env, err = e.buildSecureEnvironment(options.SecureEnvironment, options.AllowOverride)
	} else {
		env, err = e.buildEnvironment(options.Environment, options.AllowOverride)
	}
	if err != nil {
		return dserrors.UserError{
			Message:    "Failed to build environment",
			Details:    err.Error(),
			Suggestion: "Re-run with --debug to see which property could not be prepared",
			Err:        err,
		}
	}

	stdin, stdout, stderr := options.Stdin, options.Stdout, options.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if options.PrintVars {
		e.printEnvironment(stderr, options.Environment)
	}

	cmd := exec.CommandContext(ctx, cmdName, options.Command[1:]...)
	cmd.Env = env
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	e.logger.Debug("Executing command: %s", strings.Join(options.Command, " "))
	e.logger.Debug("Environment variables set: %d", len(env))

	if err := cmd.Run(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			code := 1
			if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Exited() {
				code = status.ExitStatus()
			}
			return ExitError{Command: cmdName, Code: code}
		}
		return dserrors.CommandError{
			Command:    strings.Join(options.Command, " "),
			Message:    err.Error(),
			Suggestion: "Check the command output above for details",
		}
	}

	return nil
}

func noCommand() error {
	return dserrors.UserError{
		Message:    "No command specified",
		Suggestion: "Provide a command after -- (e.g., vaultconfig exec -- java -jar app.jar)",
	}
}

// currentEnvironment parses os.Environ into a map
func currentEnvironment() map[string]string {
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	return envMap
}

func merge(envMap map[string]string, key, value string, allowOverride bool) {
	if allowOverride {
		if _, exists := envMap[key]; exists {
			return
		}
	}
	envMap[key] = value
}

func toSlice(envMap map[string]string) []string {
	result := make([]string, 0, len(envMap))
	for key, value := range envMap {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result
}

// buildEnvironment creates the environment slice for the child process
func (e *Executor) buildEnvironment(vars map[string]string, allowOverride bool) ([]string, error) {
	envMap := currentEnvironment()
	for key, value := range vars {
		merge(envMap, key, value, allowOverride)
	}
	return toSlice(envMap), nil
}

// buildSecureEnvironment opens each sealed value only long enough to copy
// it into the child environment
func (e *Executor) buildSecureEnvironment(vars map[string]*secure.SecureBuffer, allowOverride bool) ([]string, error) {
	envMap := currentEnvironment()
	for key, buf := range vars {
		if buf == nil {
			merge(envMap, key, "", allowOverride)
			continue
		}
		locked, err := buf.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open secure buffer for %s: %w", key, err)
		}
		merge(envMap, key, string(locked.Bytes()), allowOverride)
		locked.Destroy()
	}
	return toSlice(envMap), nil
}

// printEnvironment lists the variable names with masked values
func (e *Executor) printEnvironment(w io.Writer, environment map[string]string) {
	if len(environment) == 0 {
		_, _ = fmt.Fprintln(w, "No environment variables resolved")
		return
	}

	_, _ = fmt.Fprintf(w, "Resolved %d environment variables:\n", len(environment))

	keys := make([]string, 0, len(environment))
	for key := range environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		_, _ = fmt.Fprintf(w, "  %s=%s\n", key, maskValue(environment[key]))
	}
	_, _ = fmt.Fprintln(w)
}

// maskValue masks a secret value for display
func maskValue(value string) string {
	if len(value) == 0 {
		return "(empty)"
	}
	if len(value) <= 3 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}
	return value[:3] + strings.Repeat("*", 8) + value[len(value)-2:]
}

// ValidateCommand checks that a command exists and is not obviously destructive
func ValidateCommand(command []string) error {
	if len(command) == 0 {
		return noCommand()
	}

	cmdName := command[0]
	if _, err := exec.LookPath(cmdName); err != nil {
		return dserrors.WrapCommandNotFound(cmdName, err)
	}

	// Not a sandbox, just a guard against obvious mistakes
	dangerousCommands := []string{
		"rm", "rmdir", "del", "format", "fdisk",
		"dd", "mkfs", "parted", "shutdown", "reboot",
	}
	for _, dangerous := range dangerousCommands {
		if cmdName == dangerous || strings.HasSuffix(cmdName, "/"+dangerous) {
			return dserrors.UserError{
				Message:    fmt.Sprintf("Potentially dangerous command '%s'", cmdName),
				Suggestion: "Use this command with extreme caution or consider safer alternatives",
			}
		}
	}

	return nil
}
