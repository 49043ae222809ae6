// Package repository implements the Git Workspace component: cloning
// a target repository into an ephemeral working directory, capturing diffs,
// and applying remediation patches back onto it. Built on top of
// internal/adapters/git.Client, which already wraps the git CLI for an
// existing checkout; this package adds the clone-into-temp-dir lifecycle and
// diff/patch helpers that client never needed (quorum always worked against
// a pre-existing, long-lived worktree).
package repository

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	adaptersgit "github.com/evalsvc/docreview/internal/adapters/git"
	"github.com/evalsvc/docreview/internal/core"
)

// Workspace is an ephemeral clone of one repository, rooted at a temp
// directory that Close removes.
type Workspace struct {
	Dir    string
	Client *adaptersgit.Client

	cloneDuration time.Duration
}

// CloneOptions configures Clone.
type CloneOptions struct {
	// Branch, if set, is checked out after a default clone.
	Branch string
	// CommitSha, if set, is checked out after Branch (pins to an exact revision).
	CommitSha string
	// Depth limits clone history; 0 means full clone.
	Depth   int
	Timeout time.Duration
}

// Clone fetches url into a new temporary directory and returns a Workspace
// bound to it. The caller must call Close when done.
func Clone(ctx context.Context, url string, opts CloneOptions) (*Workspace, error) {
	if url == "" {
		return nil, core.ErrInvalid("MISSING_URL", "repository url is required")
	}

	dir, err := os.MkdirTemp("", "docreview-clone-*")
	if err != nil {
		return nil, core.ErrFileSystem("TEMP_DIR", fmt.Sprintf("creating clone directory: %v", err))
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	cloneCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"clone", "--no-tags"}
	if opts.Depth > 0 && opts.CommitSha == "" {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, url, dir)

	start := time.Now()
	// #nosec G204 -- url is caller-supplied by design (this is a clone-a-repo service)
	cmd := exec.CommandContext(cloneCtx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(dir)
		if cloneCtx.Err() == context.DeadlineExceeded {
			return nil, core.ErrTimeout(fmt.Sprintf("cloning %s timed out after %v", url, timeout))
		}
		return nil, core.ErrRepository("CLONE_FAILED", fmt.Sprintf("git clone %s: %s", url, strings.TrimSpace(stderr.String()))).WithCause(err)
	}
	duration := time.Since(start)

	client, err := adaptersgit.NewClient(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, core.ErrRepository("CLONE_VERIFY_FAILED", "clone did not produce a valid git repository").WithCause(err)
	}

	ws := &Workspace{Dir: dir, Client: client, cloneDuration: duration}

	if opts.CommitSha != "" {
		if err := ws.Client.Checkout(ctx, opts.CommitSha, false); err != nil {
			_ = ws.Close()
			return nil, core.ErrRepository("CHECKOUT_FAILED", fmt.Sprintf("checking out %s", opts.CommitSha)).WithCause(err)
		}
	}

	return ws, nil
}

// OpenLocal wraps an existing on-disk git checkout as a Workspace without
// cloning it. Unlike Clone, the caller owns dir's lifecycle; Close is a
// no-op.
func OpenLocal(dir string) (*Workspace, error) {
	client, err := adaptersgit.NewClient(dir)
	if err != nil {
		return nil, core.ErrRepository("OPEN_LOCAL_FAILED", fmt.Sprintf("opening %s as a git repository", dir)).WithCause(err)
	}
	return &Workspace{Dir: dir, Client: client}, nil
}

// CloneDuration reports how long the clone took, for clone.completed events.
func (w *Workspace) CloneDuration() time.Duration { return w.cloneDuration }

// Close removes the workspace's temporary directory.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Dir)
}

// CheckClean reports whether the workspace has no uncommitted changes,
// refusing to run remediation against a dirty checkout.
func (w *Workspace) CheckClean(ctx context.Context) (bool, error) {
	return w.Client.IsClean(ctx)
}

// CaptureDiff stages every change in the workspace (including untracked
// files, so new files appear as full-add hunks) and returns the unified diff
// of the index against HEAD, used to populate RemediationResult.FullPatch.
func (w *Workspace) CaptureDiff(ctx context.Context) (string, error) {
	// git add -A: Client.Add quotes paths behind "--" so it cannot express a
	// bare flag like "-A"; run it directly the same way Clone/ApplyPatch do.
	// #nosec G204 -- fixed subcommand, no user input in argv
	addCmd := exec.CommandContext(ctx, "git", "add", "-A")
	addCmd.Dir = w.Dir
	var addStderr bytes.Buffer
	addCmd.Stderr = &addStderr
	if err := addCmd.Run(); err != nil {
		return "", core.ErrRepository("STAGE_FAILED", strings.TrimSpace(addStderr.String())).WithCause(err)
	}
	return w.Client.DiffStaged(ctx)
}

// Reset discards all uncommitted changes in the workspace, used to recover
// a clean checkout between the error-fix and suggestion-fix remediation
// phases.
func (w *Workspace) Reset(ctx context.Context) error {
	if err := w.Client.Clean(ctx, true, true); err != nil {
		return err
	}
	return w.Client.Reset(ctx, "hard", "HEAD")
}

// ApplyPatch applies a unified diff to the workspace via `git apply`.
func (w *Workspace) ApplyPatch(ctx context.Context, patch string) error {
	if strings.TrimSpace(patch) == "" {
		return nil
	}
	patchFile, err := os.CreateTemp(w.Dir, ".docreview-patch-*.diff")
	if err != nil {
		return core.ErrFileSystem("PATCH_TEMP_FAILED", err.Error())
	}
	patchPath := patchFile.Name()
	defer os.Remove(patchPath) // applied or not, never leave the temp file behind

	if _, err := patchFile.WriteString(patch); err != nil {
		_ = patchFile.Close()
		return core.ErrFileSystem("PATCH_TEMP_FAILED", err.Error())
	}
	if err := patchFile.Close(); err != nil {
		return core.ErrFileSystem("PATCH_TEMP_FAILED", err.Error())
	}

	// #nosec G204 -- fixed subcommand, patchPath is our own temp file
	cmd := exec.CommandContext(ctx, "git", "apply", "--whitespace=fix", patchPath)
	cmd.Dir = w.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return core.ErrRepository("PATCH_APPLY_FAILED", strings.TrimSpace(stderr.String())).WithCause(err)
	}
	return nil
}

// AbsPath joins a repository-relative path onto the workspace root.
func (w *Workspace) AbsPath(relPath string) string {
	return filepath.Join(w.Dir, relPath)
}
