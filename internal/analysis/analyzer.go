// Package analysis implements the Context Analyzer: a best-effort,
// never-fails probe of a cloned repository that feeds project context into
// evaluator prompts.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/provider"
)

// excludedDirs is the fixed block-list of directories never descended into
// when enumerating folders.
var excludedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, "target": true, ".idea": true, ".vscode": true,
	"__pycache__": true, ".venv": true, "venv": true, ".next": true,
	"coverage": true, ".cache": true,
}

// configProbes is the fixed list of top-level files checked for to enrich
// the prompt with signal about the project's toolchain.
var configProbes = []string{
	"package.json", "go.mod", "Cargo.toml", "pyproject.toml", "requirements.txt",
	"Gemfile", "pom.xml", "build.gradle", "Dockerfile", "docker-compose.yml",
	"composer.json", "Makefile",
}

const maxFolderList = 20

// promptTemplate composes the Context Analyzer's single provider call.
// Bundled inline (not loaded from disk) so the binary has no runtime data
// dependency, matching the teacher's preference for self-contained adapters.
var promptTemplate = template.Must(template.New("context").Parse(
	`Analyze this repository and report its languages, frameworks, architecture style, and common patterns.

Line count summary:
{{.ClocOutput}}

Top-level structure:
{{.RepoStructure}}

Folders (depth <= 3):
{{.FolderList}}

Respond using this exact format:
Languages: <comma-separated list>
Frameworks: <comma-separated list>
Architecture: <one line>
Patterns: <comma-separated list>
Key Folders:
- <folder>
- <folder>
`))

// Result is the Context Analyzer's output.
type Result struct {
	core.ProjectContext
	ClocOutput string
}

// ProgressFunc is invoked around each sub-step so callers can publish the
// context.cloc/context.folders/context.analysis/context.warning SSE events.
type ProgressFunc func(event string, data map[string]any)

// Options configures one Analyze call.
type Options struct {
	WorkDir           string
	Verbose           bool
	Timeout           time.Duration
	KnownDocPaths     []string
	Provider          provider.Provider
	InvokeModel       string
	InvokeTemperature float64
	OnProgress        ProgressFunc
}

// Analyze probes workDir for languages/frameworks/architecture/key folders.
// It never returns an error: any failure degrades to an "Unknown" default
// context with lineCountAvailable=false.
func Analyze(ctx context.Context, opts Options) Result {
	progress := opts.OnProgress
	if progress == nil {
		progress = func(string, map[string]any) {}
	}

	var clocOutput, repoStructure, folderList string
	var lineCountAvailable bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		progress("context.cloc.started", nil)
		out, err := runCloc(gctx, opts.WorkDir, opts.Timeout)
		if err != nil {
			progress("context.warning", map[string]any{"stage": "cloc", "error": err.Error()})
			clocOutput = "(line count unavailable)"
			return nil
		}
		lineCountAvailable = true
		clocOutput = out
		progress("context.cloc.completed", map[string]any{"available": true})
		return nil
	})
	g.Go(func() error {
		progress("context.folders.started", nil)
		folders, err := enumerateFolders(opts.WorkDir, 3)
		if err != nil {
			progress("context.warning", map[string]any{"stage": "folders", "error": err.Error()})
			folderList = "(unavailable)"
			return nil
		}
		if len(folders) > maxFolderList {
			folders = folders[:maxFolderList]
		}
		folderList = strings.Join(folders, "\n")
		repoStructure = describeTopLevel(opts.WorkDir)
		progress("context.folders.completed", map[string]any{"count": len(folders)})
		return nil
	})
	_ = g.Wait() // both goroutines swallow their own errors; Wait never fails

	result := Result{ProjectContext: core.UnknownProjectContext(), ClocOutput: clocOutput}
	result.LineCountAvailable = lineCountAvailable
	result.LineCountSummary = clocOutput
	result.KnownDocPaths = opts.KnownDocPaths

	folders := strings.Split(folderList, "\n")
	sort.Strings(folders)
	result.KeyFolders = folders

	if opts.Provider == nil {
		return result
	}

	var prompt bytes.Buffer
	_ = promptTemplate.Execute(&prompt, struct {
		ClocOutput    string
		RepoStructure string
		FolderList    string
	}{clocOutput, repoStructure, folderList})

	progress("context.analysis.started", nil)
	res, err := opts.Provider.Invoke(ctx, provider.InvokeOptions{
		Prompt:      prompt.String(),
		Model:       opts.InvokeModel,
		Temperature: opts.InvokeTemperature,
		Cwd:         opts.WorkDir,
		WriteMode:   false,
		Timeout:     opts.Timeout,
	})
	if err != nil {
		progress("context.warning", map[string]any{"stage": "analysis", "error": err.Error()})
		return result
	}

	result.RawResponseText = res.ResultText
	applyParsedResponse(&result, res.ResultText)
	progress("context.analysis.completed", nil)
	return result
}

// runCloc shells out to cloc the same way adapters shell out to AI CLI
// agents: os/exec.CommandContext, bounded by its own timeout, non-fatal on
// failure.
func runCloc(ctx context.Context, dir string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := exec.LookPath("cloc"); err != nil {
		return "", fmt.Errorf("cloc not installed: %w", err)
	}

	// #nosec G204 -- fixed binary name, dir is our own clone's path
	cmd := exec.CommandContext(cctx, "cloc", "--quiet", dir)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// enumerateFolders walks dir to the given depth, skipping excludedDirs.
func enumerateFolders(dir string, maxDepth int) ([]string, error) {
	var folders []string
	rootDepth := strings.Count(filepath.Clean(dir), string(os.PathSeparator))

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if excludedDirs[name] {
			return filepath.SkipDir
		}
		depth := strings.Count(filepath.Clean(path), string(os.PathSeparator)) - rootDepth
		if depth > maxDepth {
			return filepath.SkipDir
		}
		if path == dir {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr == nil {
			folders = append(folders, rel)
		}
		return nil
	})
	return folders, err
}

// describeTopLevel lists the top-level directory entries and flags any
// recognized config/manifest files.
func describeTopLevel(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "(unavailable)"
	}
	var names []string
	present := map[string]bool{}
	for _, e := range entries {
		names = append(names, e.Name())
		present[e.Name()] = true
	}
	sort.Strings(names)

	var found []string
	for _, probe := range configProbes {
		if present[probe] {
			found = append(found, probe)
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(names, ", "))
	if len(found) > 0 {
		sb.WriteString("\nDetected manifests: ")
		sb.WriteString(strings.Join(found, ", "))
	}
	return sb.String()
}

// applyParsedResponse fills languages/frameworks/architecture/patterns/
// keyFolders from the provider's free-text response using the line-matcher
// Unmatched fields keep their "Unknown" default.
func applyParsedResponse(result *Result, text string) {
	lines := strings.Split(text, "\n")
	var inKeyFolders bool
	var keyFolders []string

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Languages:"):
			result.Languages = splitCSV(strings.TrimPrefix(line, "Languages:"))
			inKeyFolders = false
		case strings.HasPrefix(line, "Frameworks:"):
			result.Frameworks = splitCSV(strings.TrimPrefix(line, "Frameworks:"))
			inKeyFolders = false
		case strings.HasPrefix(line, "Architecture:"):
			result.Architecture = strings.TrimSpace(strings.TrimPrefix(line, "Architecture:"))
			inKeyFolders = false
		case strings.HasPrefix(line, "Patterns:"):
			result.Patterns = splitCSV(strings.TrimPrefix(line, "Patterns:"))
			inKeyFolders = false
		case strings.HasPrefix(line, "Key Folders:"):
			inKeyFolders = true
		case inKeyFolders && strings.HasPrefix(line, "-"):
			folder := strings.TrimSpace(strings.TrimPrefix(line, "-"))
			if folder != "" {
				keyFolders = append(keyFolders, folder)
			}
		}
	}

	if len(keyFolders) > 0 {
		if len(keyFolders) > maxFolderList {
			keyFolders = keyFolders[:maxFolderList]
		}
		result.KeyFolders = keyFolders
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"Unknown"}
	}
	return out
}
