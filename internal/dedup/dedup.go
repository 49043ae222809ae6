// Package dedup implements the Issue Deduplication Engine:
// location-overlap clustering, text-similarity scoring, and union-find
// grouping to collapse near-duplicate issues down to one representative
// per equivalence class.
package dedup

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/evalsvc/docreview/internal/core"
)

// DefaultLocationTolerance is the default +/-N line tolerance for location
// overlap.
const DefaultLocationTolerance = 5

// DefaultSimilarityThreshold is the default text-similarity cutoff above
// which two issues in the same cluster are considered the same.
const DefaultSimilarityThreshold = 0.75

// fuzzyPreFilterCutoff: candidates a fuzzy.Find pass scores at or below this
// are skipped by the full Levenshtein+Jaccard pass entirely. sahilm/fuzzy
// ranks subsequence matches, not edit distance, so it only narrows the O(n^2)
// pairwise scoring work, it never itself decides similarity.
const fuzzyPreFilterCutoff = 0

// Options configures Deduplicate.
type Options struct {
	LocationTolerance   int
	SimilarityThreshold float64
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{LocationTolerance: DefaultLocationTolerance, SimilarityThreshold: DefaultSimilarityThreshold}
}

// Cluster is a group of issues whose locations overlap.
type Cluster struct {
	Indices []int
}

// EntityCandidate is a group of issues sharing a detected technology token
// (database/ORM/IP address), surfaced for future semantic dedup.
type EntityCandidate struct {
	Token   string
	Indices []int
}

// Result is the Deduplicator's output.
type Result struct {
	Kept               []core.Issue
	Removed            []core.Issue
	Clusters           [][]int // kept-index -> member original indices, informational
	LocationCandidates []Cluster
	EntityCandidates   []EntityCandidate
}

// Deduplicate clusters issues by location overlap, scores text similarity
// within each cluster, and unions similar pairs into equivalence classes,
// keeping one representative per class.
func Deduplicate(issues []core.Issue, opts Options) Result {
	if opts.LocationTolerance <= 0 {
		opts.LocationTolerance = DefaultLocationTolerance
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}

	clusters := clusterByLocation(issues, opts.LocationTolerance)

	uf := NewUnionFind(len(issues))
	var locationOnlyClusters []Cluster

	for _, cluster := range clusters {
		matchedAny := false
		candidates := primaryTexts(issues, cluster.Indices)

		for i := 0; i < len(cluster.Indices); i++ {
			others := removeAt(candidates, i)
			matches := fuzzy.Find(candidates[i], others)
			shortlist := shortlistIndices(i, matches, fuzzyPreFilterCutoff)

			for _, j := range shortlist {
				score := Similarity(candidates[i], candidates[j])
				if score >= opts.SimilarityThreshold {
					uf.Union(cluster.Indices[i], cluster.Indices[j])
					matchedAny = true
				}
			}
		}

		if !matchedAny && len(cluster.Indices) > 1 {
			locationOnlyClusters = append(locationOnlyClusters, Cluster{Indices: append([]int{}, cluster.Indices...)})
		}
	}

	groups := uf.Groups()
	var kept, removed []core.Issue
	var clusterRecord [][]int

	for _, group := range groups {
		repIdx := pickRepresentative(issues, group)
		kept = append(kept, issues[repIdx])
		clusterRecord = append(clusterRecord, append([]int{}, group...))
		for _, idx := range group {
			if idx != repIdx {
				removed = append(removed, issues[idx])
			}
		}
	}

	return Result{
		Kept:               kept,
		Removed:            removed,
		Clusters:           clusterRecord,
		LocationCandidates: locationOnlyClusters,
		EntityCandidates:   detectEntityCandidates(issues),
	}
}

// clusterByLocation groups issues whose locations overlap within tolerance
//: any location in issue A tested against any in issue B.
func clusterByLocation(issues []core.Issue, tolerance int) []Cluster {
	n := len(issues)
	visited := make([]bool, n)
	var clusters []Cluster

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		members := []int{i}
		visited[i] = true
		for j := i + 1; j < n; j++ {
			if visited[j] {
				continue
			}
			if locationsOverlap(issues[i], issues[j], tolerance) {
				members = append(members, j)
				visited[j] = true
			}
		}
		clusters = append(clusters, Cluster{Indices: members})
	}
	return clusters
}

func locationsOverlap(a, b core.Issue, tolerance int) bool {
	for _, la := range a.Locations {
		for _, lb := range b.Locations {
			if la.Overlaps(lb, tolerance) {
				return true
			}
		}
	}
	return false
}

func primaryTexts(issues []core.Issue, indices []int) []string {
	texts := make([]string, len(indices))
	for i, idx := range indices {
		texts[i] = issues[idx].PrimaryText()
	}
	return texts
}

func removeAt(texts []string, i int) []string {
	out := make([]string, 0, len(texts)-1)
	out = append(out, texts[:i]...)
	out = append(out, texts[i+1:]...)
	return out
}

// shortlistIndices maps fuzzy.Find matches (computed against a texts slice
// with entry `skip` removed) back to cluster-local indices above cutoff.
func shortlistIndices(skip int, matches fuzzy.Matches, cutoff int) []int {
	var out []int
	for _, m := range matches {
		if m.Score <= cutoff {
			continue
		}
		localIdx := m.Index
		if localIdx >= skip {
			localIdx++ // account for the removed entry at position `skip`
		}
		out = append(out, localIdx)
	}
	return out
}

// pickRepresentative chooses the highest-scoring issue in group
// step 3: impact score (severity/impactLevel) plus completeness bonuses.
func pickRepresentative(issues []core.Issue, group []int) int {
	best := group[0]
	bestScore := float64(issues[best].ImpactScore()) + issues[best].CompletenessScore()
	for _, idx := range group[1:] {
		score := float64(issues[idx].ImpactScore()) + issues[idx].CompletenessScore()
		if score > bestScore {
			best = idx
			bestScore = score
		}
	}
	return best
}

// entityTokens is the fixed set of technology tokens entity-candidate
// detection scans for.
var entityTokens = []string{"database", "postgres", "mysql", "sqlite", "redis", "orm", "kafka", "s3", "ip address"}

func detectEntityCandidates(issues []core.Issue) []EntityCandidate {
	byToken := make(map[string][]int)
	for i, issue := range issues {
		lower := strings.ToLower(issue.PrimaryText())
		for _, token := range entityTokens {
			if strings.Contains(lower, token) {
				byToken[token] = append(byToken[token], i)
			}
		}
	}

	var candidates []EntityCandidate
	for _, token := range entityTokens {
		if indices, ok := byToken[token]; ok && len(indices) > 1 {
			candidates = append(candidates, EntityCandidate{Token: token, Indices: indices})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Token < candidates[j].Token })
	return candidates
}
