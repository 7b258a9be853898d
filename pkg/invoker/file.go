package invoker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"text/template"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// filePush uploads a file, verified and idempotent by SHA-256: when the
// remote content already matches, nothing is transferred.
//
// Parameters:
//
//	dest    (string, required)  remote path
//	src     (string)            local file to upload
//	content (string)            inline content (alternative to src)
//	mode    (string|number)     octal file mode, default 0644
//	owner   (string)            owner[:group], applied via sudo chown
//	sudo_password (string)      password for the chown
type filePush struct{}

func (a *filePush) Name() string { return "file.push" }

func (a *filePush) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	content, err := localContent(params)
	if err != nil {
		return nil, err
	}
	return pushContent(ctx, remote, params, content)
}

// fileTemplate renders a local text/template with the vars parameter, then
// pushes the rendered output like file.push.
//
// Parameters: as file.push, plus
//
//	vars (map)  template data, referenced as {{.name}} in the source
type fileTemplate struct{}

func (a *fileTemplate) Name() string { return "file.template" }

func (a *fileTemplate) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	src, err := localContent(params)
	if err != nil {
		return nil, err
	}
	vars, err := params.MapOr("vars")
	if err != nil {
		return nil, err
	}
	data := make(map[string]any, len(vars))
	for k, v := range vars {
		data[k] = v.ToGo()
	}

	tmpl, err := template.New("file").Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return nil, fmt.Errorf("template rendering failed: %w", err)
	}
	return pushContent(ctx, remote, params, rendered.Bytes())
}

// fileFetch downloads a remote file to the control host.
//
// Parameters:
//
//	src  (string, required)  remote path
//	dest (string, required)  local path
type fileFetch struct{}

func (a *fileFetch) Name() string { return "file.fetch" }

func (a *fileFetch) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	src, err := params.String("src")
	if err != nil {
		return nil, err
	}
	dest, err := params.String("dest")
	if err != nil {
		return nil, err
	}

	remoteSum, err := remote.Checksum(ctx, src)
	if err != nil {
		return failureResult(1, fmt.Sprintf("cannot read %s: %v", src, err), nil), nil
	}
	if local, err := os.ReadFile(dest); err == nil {
		if localSum(local) == remoteSum {
			return successResult(false, fmt.Sprintf("%s already fetched", src),
				map[string]engine.Value{"sha256": engine.String(remoteSum)}), nil
		}
	}

	if err := remote.DownloadFile(ctx, src, dest); err != nil {
		return nil, err
	}
	return successResult(true, fmt.Sprintf("fetched %s to %s", src, dest),
		map[string]engine.Value{"sha256": engine.String(remoteSum)}), nil
}

// localContent loads the content parameter or the src file, exactly one of
// which must be set.
func localContent(params Params) ([]byte, error) {
	content, err := params.StringOr("content", "")
	if err != nil {
		return nil, err
	}
	src, err := params.StringOr("src", "")
	if err != nil {
		return nil, err
	}
	switch {
	case content != "" && src != "":
		return nil, fmt.Errorf("src and content are mutually exclusive")
	case content != "":
		return []byte(content), nil
	case src != "":
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", src, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("either src or content is required")
	}
}

// pushContent is the shared upload path of file.push and file.template.
func pushContent(ctx context.Context, remote ssh.Remote, params Params, content []byte) (*engine.Result, error) {
	dest, err := params.String("dest")
	if err != nil {
		return nil, err
	}
	mode, err := params.FileMode("mode", 0o644)
	if err != nil {
		return nil, err
	}
	owner, err := params.StringOr("owner", "")
	if err != nil {
		return nil, err
	}
	sudoPassword, err := params.StringOr("sudo_password", "")
	if err != nil {
		return nil, err
	}

	wantSum := localSum(content)
	haveSum, sumErr := remote.Checksum(ctx, dest)
	if sumErr == nil && haveSum == wantSum {
		return successResult(false, fmt.Sprintf("%s already up to date", dest),
			map[string]engine.Value{"sha256": engine.String(wantSum)}), nil
	}

	if err := remote.WriteFile(ctx, dest, content, mode); err != nil {
		return nil, err
	}

	verify, err := remote.Checksum(ctx, dest)
	if err != nil {
		return nil, err
	}
	if verify != wantSum {
		return failureResult(1, fmt.Sprintf("checksum mismatch after upload of %s", dest), nil), nil
	}

	if owner != "" {
		res, err := remote.RunSudo(ctx, fmt.Sprintf("chown %s %s", shQuote(owner), shQuote(dest)), sudoPassword)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return failureResult(res.ExitCode, combinedOutput(res), nil), nil
		}
	}

	return successResult(true, fmt.Sprintf("wrote %s (%d bytes)", dest, len(content)),
		map[string]engine.Value{"sha256": engine.String(wantSum)}), nil
}

func localSum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
