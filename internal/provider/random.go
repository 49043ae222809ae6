package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// randomProviderName is the value accepted in requests as provider="random".
const randomProviderName = "random"

// sampleIssueTemplates are plausible-looking documentation issues used to
// synthesize fake evaluator output; varied enough that a multi-issue fixture
// doesn't read as an obvious repeat.
var sampleIssueTemplates = []string{
	"Missing installation instructions for the %s module",
	"Outdated example command referencing a removed flag in %s",
	"Broken internal link to the configuration guide near %s",
	"Undocumented environment variable required by %s",
	"Inconsistent terminology between %s and the glossary",
	"Code sample in %s does not compile against the current API",
	"Section on %s duplicates content already covered elsewhere",
	"No migration notes for the breaking change introduced in %s",
}

// RandomProvider is a deterministic-when-seeded fake Provider. It fabricates a plausible-looking
// evaluator response instead of shelling out to a real CLI agent, so tests
// and demos can exercise the full pipeline without network access or paid
// API calls.
type RandomProvider struct {
	rng       *rand.Rand
	issueMean int
}

// NewRandomProvider returns a non-deterministic RandomProvider seeded from
// the current time.
func NewRandomProvider() *RandomProvider {
	return NewSeededRandomProvider(time.Now().UnixNano())
}

// NewSeededRandomProvider returns a RandomProvider whose output is fully
// determined by seed, so the same (seed, prompt) pair always produces the
// same fabricated issues. Used by property tests that need reproducible
// fixtures without a real AI provider.
func NewSeededRandomProvider(seed int64) *RandomProvider {
	return &RandomProvider{rng: rand.New(rand.NewSource(seed)), issueMean: 3}
}

// Name identifies this provider in the registry.
func (p *RandomProvider) Name() string { return randomProviderName }

// Invoke fabricates between 1 and 2*issueMean-1 issues referencing the
// prompt's subject, formatted as the same result/usage JSON shape a real CLI
// provider would emit, so downstream parsing is exercised identically.
func (p *RandomProvider) Invoke(ctx context.Context, opts InvokeOptions) (*InvokeResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	subject := extractSubject(opts.Prompt)
	count := 1 + p.rng.Intn(2*p.issueMean-1)

	var sb strings.Builder
	for i := 0; i < count; i++ {
		tmpl := sampleIssueTemplates[p.rng.Intn(len(sampleIssueTemplates))]
		fmt.Fprintf(&sb, "%d. %s\n", i+1, fmt.Sprintf(tmpl, subject))
	}

	return &InvokeResult{
		ResultText: sb.String(),
		Usage: TokenUsage{
			Input:  len(opts.Prompt) / 4,
			Output: sb.Len() / 4,
		},
		CostUSD:    0,
		DurationMs: int64(10 + p.rng.Intn(50)),
	}, nil
}

// extractSubject pulls a short, human-readable anchor out of a prompt so
// fabricated issues reference something resembling the file under review,
// falling back to a generic placeholder.
func extractSubject(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "File: ") {
			return strings.TrimPrefix(line, "File: ")
		}
		if strings.HasPrefix(line, "Path: ") {
			return strings.TrimPrefix(line, "Path: ")
		}
	}
	return "the documentation"
}
