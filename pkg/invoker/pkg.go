package invoker

import (
	"context"
	"fmt"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// pkgEnsure converges an OS package to a desired state, idempotently.
//
// Parameters:
//
//	name    (string, required)  package name
//	state   (string)            present (default), absent, latest
//	version (string)            exact version for present
//	manager (string)            apt or dnf; autodetected when empty
//	sudo_password (string)      sudo password for the manager invocation
type pkgEnsure struct{}

func (a *pkgEnsure) Name() string { return "pkg.ensure" }

func (a *pkgEnsure) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	name, err := params.String("name")
	if err != nil {
		return nil, err
	}
	state, err := params.StringOr("state", "present")
	if err != nil {
		return nil, err
	}
	version, err := params.StringOr("version", "")
	if err != nil {
		return nil, err
	}
	manager, err := params.StringOr("manager", "")
	if err != nil {
		return nil, err
	}
	sudoPassword, err := params.StringOr("sudo_password", "")
	if err != nil {
		return nil, err
	}

	if manager == "" {
		manager, err = detectManager(ctx, remote)
		if err != nil {
			return nil, err
		}
	}

	installed, currentVersion, err := queryPackage(ctx, remote, manager, name)
	if err != nil {
		return nil, err
	}

	switch state {
	case "present":
		if installed && (version == "" || version == currentVersion) {
			return successResult(false, fmt.Sprintf("%s %s already present", name, currentVersion),
				map[string]engine.Value{"version": engine.String(currentVersion)}), nil
		}
		return installPackage(ctx, remote, manager, name, version, sudoPassword)

	case "absent":
		if !installed {
			return successResult(false, fmt.Sprintf("%s already absent", name), nil), nil
		}
		return removePackage(ctx, remote, manager, name, sudoPassword)

	case "latest":
		if !installed {
			return installPackage(ctx, remote, manager, name, "", sudoPassword)
		}
		return upgradePackage(ctx, remote, manager, name, currentVersion, sudoPassword)

	default:
		return nil, fmt.Errorf("invalid package state %q", state)
	}
}

// detectManager finds the endpoint's package manager.
func detectManager(ctx context.Context, remote ssh.Remote) (string, error) {
	for _, m := range []string{"apt-get", "dnf", "yum"} {
		res, err := remote.Run(ctx, "command -v "+m)
		if err != nil {
			return "", err
		}
		if res.ExitCode == 0 {
			if m == "apt-get" {
				return "apt", nil
			}
			return m, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// queryPackage reports whether the package is installed and at what version.
func queryPackage(ctx context.Context, remote ssh.Remote, manager, name string) (bool, string, error) {
	var cmd string
	switch manager {
	case "apt":
		cmd = "dpkg-query -W -f='${Version}' " + shQuote(name)
	case "dnf", "yum":
		cmd = "rpm -q --queryformat '%{VERSION}-%{RELEASE}' " + shQuote(name)
	default:
		return false, "", fmt.Errorf("unsupported package manager %q", manager)
	}
	res, err := remote.Run(ctx, cmd)
	if err != nil {
		return false, "", err
	}
	if res.ExitCode != 0 {
		return false, "", nil
	}
	return true, res.Stdout, nil
}

func installPackage(ctx context.Context, remote ssh.Remote, manager, name, version, sudoPassword string) (*engine.Result, error) {
	spec := name
	if version != "" {
		if manager == "apt" {
			spec = name + "=" + version
		} else {
			spec = name + "-" + version
		}
	}
	var cmd string
	switch manager {
	case "apt":
		cmd = "DEBIAN_FRONTEND=noninteractive apt-get install -y " + shQuote(spec)
	case "dnf", "yum":
		cmd = manager + " install -y " + shQuote(spec)
	default:
		return nil, fmt.Errorf("unsupported package manager %q", manager)
	}

	res, err := remote.RunSudo(ctx, cmd, sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}

	_, newVersion, _ := queryPackage(ctx, remote, manager, name)
	return successResult(true, fmt.Sprintf("installed %s %s", name, newVersion),
		map[string]engine.Value{"version": engine.String(newVersion)}), nil
}

func removePackage(ctx context.Context, remote ssh.Remote, manager, name, sudoPassword string) (*engine.Result, error) {
	var cmd string
	switch manager {
	case "apt":
		cmd = "DEBIAN_FRONTEND=noninteractive apt-get remove -y " + shQuote(name)
	case "dnf", "yum":
		cmd = manager + " remove -y " + shQuote(name)
	default:
		return nil, fmt.Errorf("unsupported package manager %q", manager)
	}
	res, err := remote.RunSudo(ctx, cmd, sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}
	return successResult(true, fmt.Sprintf("removed %s", name), nil), nil
}

func upgradePackage(ctx context.Context, remote ssh.Remote, manager, name, previousVersion, sudoPassword string) (*engine.Result, error) {
	var cmd string
	switch manager {
	case "apt":
		cmd = "DEBIAN_FRONTEND=noninteractive apt-get install -y --only-upgrade " + shQuote(name)
	case "dnf", "yum":
		cmd = manager + " upgrade -y " + shQuote(name)
	default:
		return nil, fmt.Errorf("unsupported package manager %q", manager)
	}
	res, err := remote.RunSudo(ctx, cmd, sudoPassword)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}

	_, newVersion, _ := queryPackage(ctx, remote, manager, name)
	return successResult(newVersion != previousVersion,
		fmt.Sprintf("%s at %s", name, newVersion),
		map[string]engine.Value{"version": engine.String(newVersion)}), nil
}
