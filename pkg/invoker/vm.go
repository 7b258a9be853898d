package invoker

import (
	"context"
	"fmt"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// vmLifecycle converges a libvirt guest through virsh on the endpoint.
//
// Parameters:
//
//	name     (string, required)  domain name
//	state    (string)            running (default), stopped, absent
//	xml_path (string)            remote domain XML, required to define a
//	                             missing guest for state=running
//	force    (bool)              destroy instead of graceful shutdown
//	sudo_password (string)       password for virsh mutations
type vmLifecycle struct{}

func (a *vmLifecycle) Name() string { return "vm.lifecycle" }

func (a *vmLifecycle) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	name, err := params.String("name")
	if err != nil {
		return nil, err
	}
	state, err := params.StringOr("state", "running")
	if err != nil {
		return nil, err
	}
	xmlPath, err := params.StringOr("xml_path", "")
	if err != nil {
		return nil, err
	}
	force, err := params.BoolOr("force", false)
	if err != nil {
		return nil, err
	}
	sudoPassword, err := params.StringOr("sudo_password", "")
	if err != nil {
		return nil, err
	}

	domState, exists, err := domainState(ctx, remote, name, sudoPassword)
	if err != nil {
		return nil, err
	}

	switch state {
	case "running":
		if exists && domState == "running" {
			return successResult(false, fmt.Sprintf("domain %s already running", name),
				map[string]engine.Value{"state": engine.String(domState)}), nil
		}
		if !exists {
			if xmlPath == "" {
				return failureResult(1,
					fmt.Sprintf("domain %s does not exist and no xml_path given", name), nil), nil
			}
			if res, err := virsh(ctx, remote, "define "+shQuote(xmlPath), sudoPassword); err != nil || res != nil {
				return res, err
			}
		}
		if res, err := virsh(ctx, remote, "start "+shQuote(name), sudoPassword); err != nil || res != nil {
			return res, err
		}
		return successResult(true, fmt.Sprintf("domain %s started", name),
			map[string]engine.Value{"state": engine.String("running")}), nil

	case "stopped":
		if !exists || domState == "shut off" {
			return successResult(false, fmt.Sprintf("domain %s already stopped", name), nil), nil
		}
		verb := "shutdown"
		if force {
			verb = "destroy"
		}
		if res, err := virsh(ctx, remote, verb+" "+shQuote(name), sudoPassword); err != nil || res != nil {
			return res, err
		}
		return successResult(true, fmt.Sprintf("domain %s stopping", name), nil), nil

	case "absent":
		if !exists {
			return successResult(false, fmt.Sprintf("domain %s already absent", name), nil), nil
		}
		if domState == "running" {
			// Best effort: a running guest cannot be undefined.
			if _, err := virsh(ctx, remote, "destroy "+shQuote(name), sudoPassword); err != nil {
				return nil, err
			}
		}
		if res, err := virsh(ctx, remote, "undefine "+shQuote(name), sudoPassword); err != nil || res != nil {
			return res, err
		}
		return successResult(true, fmt.Sprintf("domain %s removed", name), nil), nil

	default:
		return nil, fmt.Errorf("invalid vm state %q", state)
	}
}

// domainState reports the guest's virsh state and whether it is defined.
func domainState(ctx context.Context, remote ssh.Remote, name, sudoPassword string) (string, bool, error) {
	res, err := remote.RunSudo(ctx, "virsh domstate "+shQuote(name), sudoPassword)
	if err != nil {
		return "", false, err
	}
	if res.ExitCode != 0 {
		return "", false, nil
	}
	return res.Stdout, true, nil
}

// virsh runs one mutation, returning a non-nil Result only on failure.
func virsh(ctx context.Context, remote ssh.Remote, args, sudoPassword string) (*engine.Result, error) {
	res, err := remote.RunSudo(ctx, "virsh "+args, sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}
	return nil, nil
}
