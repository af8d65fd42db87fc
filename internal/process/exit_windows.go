//go:build windows

package process

import (
	"os"
	"os/exec"
)

// terminateProcess kills the process; Windows has no SIGTERM.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

// waitExit waits for the process. ConPTY processes are not started through
// cmd.Start, so they are waited on via cmd.Process.
func waitExit(cmd *exec.Cmd, h PtyHandle) (exitCode int, signalName string, err error) {
	if h == nil {
		err = cmd.Wait()
		if err == nil {
			return 0, "", nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), "", err
		}
		return 1, "", err
	}

	state, err := cmd.Process.Wait()
	if err != nil {
		return 1, "", err
	}
	if code := state.ExitCode(); code != 0 {
		return code, "", &exec.ExitError{ProcessState: state}
	}
	return 0, "", nil
}
