package remediation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evalsvc/docreview/internal/core"
	"github.com/evalsvc/docreview/internal/discovery"
	"github.com/evalsvc/docreview/internal/provider"
)

// mergedFromDelimiter marks where an alias file's content was appended onto
// its canonical file during naive consolidation.
const mergedFromDelimiter = "<!-- Merged from CLAUDE.md -->"

// minMergeRatio is the smallest fraction of the smaller input's length an
// AI-produced merge must retain before it's trusted over the naive fallback.
const minMergeRatio = 0.20

// consolidatePairs rewrites every colocated, not-yet-consolidated pair found
// under workDir: the alias file's content is merged into its canonical
// sibling, then the alias is replaced with a `@<canonical>` reference
// pointer. Issue locations pointing at a consolidated alias are rewritten to
// the canonical path so downstream plan/execute prompts never reference a
// file that no longer holds content.
func (o *Orchestrator) consolidatePairs(ctx context.Context, prov provider.Provider, workDir string, issues []core.Issue) ([]core.Issue, error) {
	result, err := discovery.Discover(workDir)
	if err != nil {
		return issues, err
	}

	rewrites := make(map[string]string) // aliasPath -> canonicalPath
	for _, pair := range result.ColocatedPairs {
		if pair.AlreadyConsolidated {
			continue
		}
		if err := o.consolidatePair(ctx, prov, workDir, pair); err != nil {
			return issues, err
		}
		rewrites[pair.AliasPath] = pair.CanonicalPath
	}
	if len(rewrites) == 0 {
		return issues, nil
	}

	out := make([]core.Issue, len(issues))
	for i, issue := range issues {
		for j, loc := range issue.Locations {
			if canonical, ok := rewrites[loc.File]; ok {
				issue.Locations[j].File = canonical
			}
		}
		out[i] = issue
	}
	return out, nil
}

func (o *Orchestrator) consolidatePair(ctx context.Context, prov provider.Provider, workDir string, pair core.ColocatedPair) error {
	canonicalAbs := filepath.Join(workDir, pair.CanonicalPath)
	aliasAbs := filepath.Join(workDir, pair.AliasPath)

	canonicalContent, err := os.ReadFile(canonicalAbs) // #nosec G304 -- path derived from our own discovery walk
	if err != nil {
		return core.ErrFileSystem("READ_CANONICAL_FAILED", err.Error())
	}
	aliasContent, err := os.ReadFile(aliasAbs) // #nosec G304 -- path derived from our own discovery walk
	if err != nil {
		return core.ErrFileSystem("READ_ALIAS_FAILED", err.Error())
	}

	merged := o.mergeContent(ctx, prov, string(canonicalContent), string(aliasContent))
	if err := os.WriteFile(canonicalAbs, []byte(merged), 0o644); err != nil { // #nosec G306 -- instruction files aren't secrets
		return core.ErrFileSystem("WRITE_CANONICAL_FAILED", err.Error())
	}

	relTarget, err := filepath.Rel(filepath.Dir(pair.AliasPath), pair.CanonicalPath)
	if err != nil {
		relTarget = pair.CanonicalPath
	}
	pointer := "@" + filepath.ToSlash(relTarget) + "\n"
	if err := os.WriteFile(aliasAbs, []byte(pointer), 0o644); err != nil { // #nosec G306 -- instruction files aren't secrets
		return core.ErrFileSystem("WRITE_ALIAS_FAILED", err.Error())
	}
	return nil
}

// mergeContent tries an AI merge of alias content into canonical content,
// falling back to a naive append whenever the provider produces nothing
// useful (empty, or implausibly short relative to the smaller input).
func (o *Orchestrator) mergeContent(ctx context.Context, prov provider.Provider, canonical, alias string) string {
	naive := canonical + "\n\n" + mergedFromDelimiter + "\n\n" + alias

	if prov == nil {
		return naive
	}

	prompt := fmt.Sprintf(`Merge the alias instructions below into the canonical file, removing
duplication and keeping every distinct instruction. Respond with the
merged file content only, no commentary.

Canonical file:
%s

Alias file:
%s
`, canonical, alias)

	res, err := prov.Invoke(ctx, provider.InvokeOptions{Prompt: prompt, WriteMode: false})
	o.publishProgress(map[string]any{"phase": "consolidation"})
	if err != nil {
		return naive
	}

	merged := strings.TrimSpace(res.ResultText)
	smaller := len(canonical)
	if len(alias) < smaller {
		smaller = len(alias)
	}
	if merged == "" || float64(len(merged)) < float64(smaller)*minMergeRatio {
		return naive
	}
	return merged
}
