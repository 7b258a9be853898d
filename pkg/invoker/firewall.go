package invoker

import (
	"context"
	"fmt"
	"strings"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// firewallRule opens or closes a port through firewalld or ufw, whichever
// the endpoint runs.
//
// Parameters:
//
//	port     (number|string, required)  port number
//	protocol (string)                   tcp (default) or udp
//	state    (string)                   present (default) or absent
//	sudo_password (string)              password for firewall mutations
type firewallRule struct{}

func (a *firewallRule) Name() string { return "firewall.rule" }

func (a *firewallRule) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	port, err := portParam(params)
	if err != nil {
		return nil, err
	}
	protocol, err := params.StringOr("protocol", "tcp")
	if err != nil {
		return nil, err
	}
	if protocol != "tcp" && protocol != "udp" {
		return nil, fmt.Errorf("invalid protocol %q", protocol)
	}
	state, err := params.StringOr("state", "present")
	if err != nil {
		return nil, err
	}
	if state != "present" && state != "absent" {
		return nil, fmt.Errorf("invalid firewall rule state %q", state)
	}
	sudoPassword, err := params.StringOr("sudo_password", "")
	if err != nil {
		return nil, err
	}

	probe, err := remote.Run(ctx, "command -v firewall-cmd")
	if err != nil {
		return nil, err
	}
	if probe.ExitCode == 0 {
		return firewalldRule(ctx, remote, port, protocol, state, sudoPassword)
	}

	probe, err = remote.Run(ctx, "command -v ufw")
	if err != nil {
		return nil, err
	}
	if probe.ExitCode == 0 {
		return ufwRule(ctx, remote, port, protocol, state, sudoPassword)
	}

	return nil, fmt.Errorf("no supported firewall found (firewall-cmd or ufw)")
}

func portParam(params Params) (string, error) {
	v, ok := params["port"]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", "port")
	}
	switch v.Kind() {
	case engine.KindNumber:
		n, _ := v.AsNumber()
		return fmt.Sprintf("%d", int(n)), nil
	case engine.KindString:
		s, _ := v.AsString()
		return s, nil
	default:
		return "", fmt.Errorf("parameter %q must be a number or string", "port")
	}
}

func firewalldRule(ctx context.Context, remote ssh.Remote, port, protocol, state, sudoPassword string) (*engine.Result, error) {
	spec := port + "/" + protocol
	query, err := remote.Run(ctx, "firewall-cmd --query-port="+shQuote(spec))
	if err != nil {
		return nil, err
	}
	present := query.ExitCode == 0

	if (state == "present") == present {
		return successResult(false, fmt.Sprintf("port %s already %s", spec, state), nil), nil
	}

	verb := "--add-port="
	if state == "absent" {
		verb = "--remove-port="
	}
	res, err := remote.RunSudo(ctx, "firewall-cmd --permanent "+verb+shQuote(spec), sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}
	reload, err := remote.RunSudo(ctx, "firewall-cmd --reload", sudoPassword)
	if err != nil {
		return nil, err
	}
	if reload.ExitCode != 0 {
		return failureResult(reload.ExitCode, combinedOutput(reload), nil), nil
	}
	return successResult(true, fmt.Sprintf("port %s now %s", spec, state), nil), nil
}

func ufwRule(ctx context.Context, remote ssh.Remote, port, protocol, state, sudoPassword string) (*engine.Result, error) {
	spec := port + "/" + protocol
	verb := "allow"
	if state == "absent" {
		verb = "delete allow"
	}
	res, err := remote.RunSudo(ctx, fmt.Sprintf("ufw %s %s", verb, spec), sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}
	// ufw reports no-ops on its stdout rather than through the exit code.
	unchanged := strings.Contains(res.Stdout, "Skipping adding existing rule") ||
		strings.Contains(res.Stdout, "Could not delete non-existent rule")
	return successResult(!unchanged, combinedOutput(res), nil), nil
}
