package repository

import (
	"strings"

	"github.com/evalsvc/docreview/internal/core"
)

// ParseUnifiedDiff splits a multi-file unified diff (as produced by `git
// diff`) into per-file summaries, counting added/removed lines. No example
// repository parses unified diffs itself (DESIGN.md notes the absence); this
// is a small, self-contained scan with no external dependency to justify.
func ParseUnifiedDiff(patch string) []core.FileChange {
	if strings.TrimSpace(patch) == "" {
		return nil
	}

	var changes []core.FileChange
	var current *core.FileChange

	flush := func() {
		if current != nil {
			changes = append(changes, *current)
			current = nil
		}
	}

	lines := strings.Split(patch, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			path := pathFromDiffHeader(line)
			current = &core.FileChange{Path: path, Status: core.FileChangeModified}
		case strings.HasPrefix(line, "new file mode"):
			if current != nil {
				current.Status = core.FileChangeAdded
			}
		case strings.HasPrefix(line, "deleted file mode"):
			if current != nil {
				current.Status = core.FileChangeDeleted
			}
		case strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "--- "):
			// header lines carry no additional info beyond diff --git/mode markers
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			if current != nil {
				current.Additions++
			}
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			if current != nil {
				current.Deletions++
			}
		}
		if current != nil {
			current.Diff += line + "\n"
		}
	}
	flush()

	return changes
}

// pathFromDiffHeader extracts the file path from a "diff --git a/x b/x" line.
func pathFromDiffHeader(line string) string {
	fields := strings.Fields(line)
	for _, f := range fields {
		if strings.HasPrefix(f, "b/") {
			return strings.TrimPrefix(f, "b/")
		}
	}
	if len(fields) > 0 {
		return strings.TrimPrefix(fields[len(fields)-1], "b/")
	}
	return ""
}

// TotalAdditions sums Additions across a set of file changes.
func TotalAdditions(changes []core.FileChange) int {
	total := 0
	for _, c := range changes {
		total += c.Additions
	}
	return total
}

// TotalDeletions sums Deletions across a set of file changes.
func TotalDeletions(changes []core.FileChange) int {
	total := 0
	for _, c := range changes {
		total += c.Deletions
	}
	return total
}
