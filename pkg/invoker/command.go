package invoker

import (
	"context"
	"fmt"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// commandRun executes an arbitrary shell command on the endpoint.
//
// Parameters:
//
//	cmd     (string, required)  command line to execute
//	sudo    (bool)              run under sudo
//	sudo_password (string)      sudo password; empty assumes NOPASSWD
//	chdir   (string)            working directory
//	creates (string)            skip (unchanged) when this remote path exists
type commandRun struct{}

func (a *commandRun) Name() string { return "command.run" }

func (a *commandRun) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	cmd, err := params.String("cmd")
	if err != nil {
		return nil, err
	}
	sudo, err := params.BoolOr("sudo", false)
	if err != nil {
		return nil, err
	}
	sudoPassword, err := params.StringOr("sudo_password", "")
	if err != nil {
		return nil, err
	}
	chdir, err := params.StringOr("chdir", "")
	if err != nil {
		return nil, err
	}
	creates, err := params.StringOr("creates", "")
	if err != nil {
		return nil, err
	}

	if creates != "" {
		probe, err := remote.Run(ctx, "test -e "+shQuote(creates))
		if err != nil {
			return nil, err
		}
		if probe.ExitCode == 0 {
			return successResult(false, fmt.Sprintf("%s exists, command not run", creates), nil), nil
		}
	}

	if chdir != "" {
		cmd = fmt.Sprintf("cd %s && %s", shQuote(chdir), cmd)
	}

	var res *ssh.ExecResult
	if sudo {
		res, err = remote.RunSudo(ctx, cmd, sudoPassword)
	} else {
		res, err = remote.Run(ctx, cmd)
	}
	if err != nil {
		return nil, err
	}

	payload := map[string]engine.Value{
		"stdout": engine.String(res.Stdout),
		"stderr": engine.String(res.Stderr),
	}
	if res.ExitCode != 0 {
		out := failureResult(res.ExitCode, combinedOutput(res), payload)
		return out, nil
	}
	out := successResult(true, combinedOutput(res), payload)
	out.ExitCode = res.ExitCode
	return out, nil
}
