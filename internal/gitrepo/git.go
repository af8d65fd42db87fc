package gitrepo

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
)

// authFailurePatterns match git stderr for a remote that rejected or
// demanded credentials.
var authFailurePatterns = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"terminal prompts disabled",
	"invalid username or password",
	"http basic: access denied",
	"the requested url returned error: 401",
	"the requested url returned error: 403",
	"permission denied (publickey",
	"repository not found",
}

var repoNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// gitResult is the captured output of one git invocation.
type gitResult struct {
	stdout string
	stderr string
}

// runGit executes git with prompts disabled. When token is set it is passed
// as an HTTP authorization header through the environment, so it appears
// neither in argv nor in the repository config.
func runGit(ctx context.Context, dir, token string, args ...string) (gitResult, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=never",
		"GIT_ASKPASS=",
		"SSH_ASKPASS=",
		"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
	)
	if token != "" {
		cmd.Env = append(cmd.Env,
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.extraHeader",
			"GIT_CONFIG_VALUE_0=Authorization: Basic "+basicCredential(token),
		)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return gitResult{stdout: stdout.String(), stderr: stderr.String()}, err
}

func basicCredential(token string) string {
	return base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
}

// classifyGitError turns a failed git invocation into an AppError.
// Credential rejections become AuthenticationRequired so callers can offer
// to link an account; everything else is a TransportFailure.
func classifyGitError(ctx context.Context, op string, res gitResult, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.TransportFailure(fmt.Sprintf("git %s timed out or was cancelled", op), ctxErr)
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return apperrors.TransportFailure("git executable not available", err)
	}

	msg := strings.TrimSpace(res.stderr)
	if msg == "" {
		msg = err.Error()
	}
	if isAuthFailure(msg) {
		return apperrors.AuthenticationRequired(fmt.Sprintf("git %s requires authentication: %s", op, msg), err)
	}
	return apperrors.TransportFailure(fmt.Sprintf("git %s failed: %s", op, msg), err)
}

func isAuthFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, p := range authFailurePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// deriveName produces a repository name from the last path segment of a
// clone URL. Both URL and scp-like (git@host:owner/repo.git) forms work.
func deriveName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	} else if i := strings.LastIndex(rawURL, ":"); i >= 0 && !strings.Contains(rawURL, "://") {
		p = rawURL[i+1:]
	}
	p = strings.TrimRight(p, "/")
	name := strings.TrimSuffix(path.Base(p), ".git")
	name = repoNameSanitizer.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	return name
}

func validateName(name string) error {
	if name == "" {
		return apperrors.ValidationError("name", "could not derive a repository name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || repoNameSanitizer.MatchString(name) {
		return apperrors.ValidationError("name", fmt.Sprintf("invalid repository name %q", name))
	}
	return nil
}

// redactURL removes any userinfo from a remote URL before it is stored.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	u.User = nil
	return u.String()
}

// parseAheadBehind parses `git rev-list --left-right --count` output.
func parseAheadBehind(out string) (ahead, behind int, err error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	if ahead, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, err
	}
	if behind, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

func summarize(dirty bool, ahead, behind int) Status {
	switch {
	case dirty:
		return StatusDirty
	case ahead > 0:
		return StatusAhead
	case behind > 0:
		return StatusBehind
	default:
		return StatusClean
	}
}
