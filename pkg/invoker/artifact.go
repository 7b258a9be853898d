package invoker

import (
	"context"
	"fmt"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// artifactFetch downloads a release artifact onto the endpoint itself, with
// checksum verification. The idempotency probe is the remote file's checksum:
// a matching artifact is never re-downloaded.
//
// Parameters:
//
//	url    (string, required)  artifact URL
//	dest   (string, required)  remote path
//	sha256 (string)            expected checksum; verified when set
//	mode   (string|number)     octal file mode, default 0755
type artifactFetch struct{}

func (a *artifactFetch) Name() string { return "artifact.fetch" }

func (a *artifactFetch) Run(ctx context.Context, remote ssh.Remote, params Params) (*engine.Result, error) {
	url, err := params.String("url")
	if err != nil {
		return nil, err
	}
	dest, err := params.String("dest")
	if err != nil {
		return nil, err
	}
	wantSum, err := params.StringOr("sha256", "")
	if err != nil {
		return nil, err
	}
	mode, err := params.FileMode("mode", 0o755)
	if err != nil {
		return nil, err
	}

	if wantSum != "" {
		if haveSum, err := remote.Checksum(ctx, dest); err == nil && haveSum == wantSum {
			return successResult(false, fmt.Sprintf("%s already present with matching checksum", dest),
				map[string]engine.Value{"sha256": engine.String(haveSum)}), nil
		}
	}

	download := fmt.Sprintf("curl -fsSL -o %s %s || wget -q -O %s %s",
		shQuote(dest), shQuote(url), shQuote(dest), shQuote(url))
	res, err := remote.Run(ctx, download)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failureResult(res.ExitCode, combinedOutput(res), nil), nil
	}

	gotSum, err := remote.Checksum(ctx, dest)
	if err != nil {
		return nil, err
	}
	if wantSum != "" && gotSum != wantSum {
		return failureResult(1,
			fmt.Sprintf("checksum mismatch for %s: want %s, got %s", dest, wantSum, gotSum), nil), nil
	}

	chmod, err := remote.Run(ctx, fmt.Sprintf("chmod %o %s", mode, shQuote(dest)))
	if err != nil {
		return nil, err
	}
	if chmod.ExitCode != 0 {
		return failureResult(chmod.ExitCode, combinedOutput(chmod), nil), nil
	}

	return successResult(true, fmt.Sprintf("fetched %s to %s", url, dest),
		map[string]engine.Value{"sha256": engine.String(gotSum)}), nil
}
