package invoker

import (
	"context"
	"fmt"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// serviceEnsure converges a systemd unit's active and enabled state.
//
// Parameters:
//
//	name    (string, required)  unit name
//	state   (string)            started (default), stopped, restarted
//	enabled (bool)              also converge the enabled flag when set
//	sudo_password (string)      password for systemctl mutations
type serviceEnsure struct{}

func (a *serviceEnsure) Name() string { return "service.ensure" }

func (a *serviceEnsure) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	name, err := params.String("name")
	if err != nil {
		return nil, err
	}
	state, err := params.StringOr("state", "started")
	if err != nil {
		return nil, err
	}
	sudoPassword, err := params.StringOr("sudo_password", "")
	if err != nil {
		return nil, err
	}

	active, err := unitActive(ctx, remote, name)
	if err != nil {
		return nil, err
	}

	changed := false
	switch state {
	case "started":
		if !active {
			if res, err := systemctl(ctx, remote, "start", name, sudoPassword); err != nil || res != nil {
				return res, err
			}
			changed = true
		}
	case "stopped":
		if active {
			if res, err := systemctl(ctx, remote, "stop", name, sudoPassword); err != nil || res != nil {
				return res, err
			}
			changed = true
		}
	case "restarted":
		if res, err := systemctl(ctx, remote, "restart", name, sudoPassword); err != nil || res != nil {
			return res, err
		}
		changed = true
	default:
		return nil, fmt.Errorf("invalid service state %q", state)
	}

	if v, ok := params["enabled"]; ok && !v.IsNull() {
		wantEnabled, err := v.AsBool()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", "enabled", err)
		}
		probe, err := remote.Run(ctx, "systemctl is-enabled "+shQuote(name))
		if err != nil {
			return nil, err
		}
		isEnabled := probe.ExitCode == 0
		if wantEnabled != isEnabled {
			verb := "enable"
			if !wantEnabled {
				verb = "disable"
			}
			if res, err := systemctl(ctx, remote, verb, name, sudoPassword); err != nil || res != nil {
				return res, err
			}
			changed = true
		}
	}

	return successResult(changed, fmt.Sprintf("unit %s %s", name, state),
		map[string]engine.Value{"unit": engine.String(name)}), nil
}

func unitActive(ctx context.Context, remote ssh.Remote, name string) (bool, error) {
	res, err := remote.Run(ctx, "systemctl is-active "+shQuote(name))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// systemctl runs one mutation verb. It returns a non-nil Result only on
// failure, so callers can use the (res, err) pair as an early exit.
func systemctl(ctx context.Context, remote ssh.Remote, verb, name, sudoPassword string) (*engine.Result, error) {
	res, err := remote.RunSudo(ctx, fmt.Sprintf("systemctl %s %s", verb, shQuote(name)), sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}
	return nil, nil
}
