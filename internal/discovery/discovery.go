// Package discovery implements File Discovery: locating AGENTS.md-class
// instruction files and their CLAUDE.md-class aliases across a repository,
// classifying each as content or reference pointer, and grouping colocated
// pairs per directory.
package discovery

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evalsvc/docreview/internal/core"
)

// CanonicalNames is the fixed set of AI-agent instruction filenames treated
// as "canonical" content files.
var CanonicalNames = []string{"AGENTS.md"}

// AliasNames is the fixed set of filenames treated as aliases of a canonical
// file — often a symlink or a thin `@AGENTS.md` reference pointer.
var AliasNames = []string{"CLAUDE.md", "GEMINI.md", ".cursorrules", ".github/copilot-instructions.md"}

// referencePointer matches a file whose only non-blank content is an
// `@PATH` reference, optionally `./`-prefixed.
var referencePointer = regexp.MustCompile(`^@\.?/?[\w./-]+$`)

// FoundFile is one located canonical or alias file.
type FoundFile struct {
	Path            string // repository-relative
	IsCanonical     bool
	IsReference     bool
	ReferenceTarget string // non-empty when IsReference
}

// Result is File Discovery's output: every located file plus the
// colocated-pair groupings derived from them.
type Result struct {
	Files          []FoundFile
	ColocatedPairs []core.ColocatedPair
}

// Discover walks root looking for canonical and alias instruction files.
func Discover(root string) (Result, error) {
	var found []FoundFile

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		base := filepath.Base(rel)

		isCanonical := containsName(CanonicalNames, base)
		isAlias := containsName(AliasNames, base) || containsName(AliasNames, rel)
		if !isCanonical && !isAlias {
			return nil
		}

		ff := FoundFile{Path: rel, IsCanonical: isCanonical}
		classifyReference(path, &ff)
		found = append(found, ff)
		return nil
	})
	if err != nil {
		return Result{}, core.ErrFileSystem("DISCOVERY_WALK_FAILED", err.Error())
	}

	return Result{Files: found, ColocatedPairs: buildColocatedPairs(found)}, nil
}

func containsName(names []string, candidate string) bool {
	for _, n := range names {
		if strings.EqualFold(n, candidate) {
			return true
		}
	}
	return false
}

// classifyReference reads a file's content and marks it as a reference
// pointer when its only non-blank line is `@PATH`.
func classifyReference(path string, ff *FoundFile) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from our own directory walk
	if err != nil {
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	nonBlank := make([]string, 0, 1)
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			nonBlank = append(nonBlank, t)
		}
	}
	if len(nonBlank) != 1 || !referencePointer.MatchString(nonBlank[0]) {
		return
	}
	ff.IsReference = true
	ff.ReferenceTarget = strings.TrimPrefix(strings.TrimPrefix(nonBlank[0], "@"), "./")
}

// buildColocatedPairs groups found files by directory; a directory holding
// both a canonical and an alias file produces one ColocatedPair, flagged
// already-consolidated when the alias is itself a reference pointer.
func buildColocatedPairs(found []FoundFile) []core.ColocatedPair {
	type bucket struct {
		canonical *FoundFile
		alias     *FoundFile
	}
	byDir := make(map[string]*bucket)

	for i := range found {
		f := &found[i]
		dir := filepath.Dir(f.Path)
		b, ok := byDir[dir]
		if !ok {
			b = &bucket{}
			byDir[dir] = b
		}
		if f.IsCanonical {
			b.canonical = f
		} else {
			b.alias = f
		}
	}

	var pairs []core.ColocatedPair
	for dir, b := range byDir {
		if b.canonical == nil || b.alias == nil {
			continue
		}
		pairs = append(pairs, core.ColocatedPair{
			Directory:           dir,
			CanonicalPath:       b.canonical.Path,
			AliasPath:           b.alias.Path,
			AlreadyConsolidated: b.alias.IsReference,
		})
	}
	return pairs
}
