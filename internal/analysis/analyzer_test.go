package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateFolders_SkipsExcludedAndRespectsDepth(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "pkg", "deep", "too-deep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "left-pad"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))

	folders, err := enumerateFolders(dir, 3)
	require.NoError(t, err)

	assert.Contains(t, folders, "docs")
	assert.Contains(t, folders, filepath.Join("src", "pkg"))
	assert.NotContains(t, folders, filepath.Join("src", "pkg", "deep", "too-deep"))
	for _, f := range folders {
		assert.NotContains(t, f, "node_modules")
	}
}

func TestApplyParsedResponse_ParsesKnownFields(t *testing.T) {
	result := &Result{}
	applyParsedResponse(result, `Languages: Go, TypeScript
Frameworks: chi, react
Architecture: layered service with a job queue
Patterns: functional options, repository pattern
Key Folders:
- internal/core
- internal/api
`)

	assert.Equal(t, []string{"Go", "TypeScript"}, result.Languages)
	assert.Equal(t, []string{"chi", "react"}, result.Frameworks)
	assert.Equal(t, "layered service with a job queue", result.Architecture)
	assert.Equal(t, []string{"internal/core", "internal/api"}, result.KeyFolders)
}

func TestApplyParsedResponse_UnmatchedFieldsLeftUnset(t *testing.T) {
	result := &Result{}
	applyParsedResponse(result, "nothing resembling the expected format")

	assert.Empty(t, result.Languages)
	assert.Empty(t, result.Architecture)
}

func TestSplitCSV_DefaultsToUnknownWhenEmpty(t *testing.T) {
	assert.Equal(t, []string{"Unknown"}, splitCSV("   "))
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a, b "))
}
