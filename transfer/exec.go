package transfer

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
)

// runCommand executes a transfer subprocess, capturing its output. A
// non-zero exit status is returned as a *CommandError carrying the
// command line and the captured stdout and stderr.
func runCommand(args ...string) (string, string, error) {
	cmd := exec.Command(args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		exitCode := -1
		if exitError, isExit := err.(*exec.ExitError); isExit {
			exitCode = exitError.ExitCode()
		} else {
			return stdout.String(), stderr.String(), fmt.Errorf("running %v: %s", args, err.Error())
		}
		slog.Info(fmt.Sprintf("Command failed: %v", args))
		slog.Info(fmt.Sprintf("returncode: %d", exitCode))
		slog.Info(fmt.Sprintf("stdout: %s", stdout.String()))
		slog.Info(fmt.Sprintf("stderr: %s", stderr.String()))
		return stdout.String(), stderr.String(), &CommandError{
			Args:     args,
			ExitCode: exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
	return stdout.String(), stderr.String(), nil
}
