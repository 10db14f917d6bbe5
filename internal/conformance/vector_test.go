package conformance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

const vectorRoot = "testdata/vectors"

// TestShippedVectors checks every vector and pins its canonical bytes.
// Regenerate canonical.json files with:
//
//	go test ./internal/conformance -update
func TestShippedVectors(t *testing.T) {
	vectors, err := Load(vectorRoot)
	require.NoError(t, err)
	require.NotEmpty(t, vectors)

	for _, v := range vectors {
		t.Run(v.Name, func(t *testing.T) {
			if v.Expected.Rejection == nil {
				can, err := intent.Normalize(v.Raw)
				require.NoError(t, err)
				g := goldie.New(t,
					goldie.WithFixtureDir(v.Dir),
					goldie.WithNameSuffix(".json"),
				)
				g.Assert(t, "canonical", can.Bytes)
			}

			r := Verify(v)
			assert.True(t, r.Passed, "problems: %v", r.Problems)
		})
	}
}

func TestReformattedMatchesMinimal(t *testing.T) {
	a, err := LoadCase(filepath.Join(vectorRoot, "minimal_perp"))
	require.NoError(t, err)
	b, err := LoadCase(filepath.Join(vectorRoot, "reformatted_perp"))
	require.NoError(t, err)
	assert.Equal(t, a.Expected.Hash, b.Expected.Hash)
	assert.Equal(t, a.Canonical, b.Canonical)
}

func copyVector(t *testing.T, name string) string {
	t.Helper()
	dst := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dst, 0o755))
	for _, f := range []string{RawFile, CanonicalFile, ExpectedFile} {
		data, err := os.ReadFile(filepath.Join(vectorRoot, name, f))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, f), data, 0o644))
	}
	return dst
}

func TestVerifyReportsEveryMismatch(t *testing.T) {
	dir := copyVector(t, "minimal_perp")
	require.NoError(t, os.WriteFile(filepath.Join(dir, CanonicalFile), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ExpectedFile), []byte(`{"hash":"00","byte_length":1,"notes":[]}`), 0o644))

	v, err := LoadCase(dir)
	require.NoError(t, err)
	r := Verify(v)
	assert.False(t, r.Passed)
	assert.Len(t, r.Problems, 3)
}

func TestVerifyRejectionMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wrong_reason")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := os.ReadFile(filepath.Join(vectorRoot, "minimal_perp", RawFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, RawFile), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ExpectedFile), []byte(`{"rejection":{"reason":"UnknownField","path":"memo"},"notes":[]}`), 0o644))

	v, err := LoadCase(dir)
	require.NoError(t, err)
	r := Verify(v)
	assert.False(t, r.Passed)
	require.Len(t, r.Problems, 1)
	assert.Contains(t, r.Problems[0], "expected rejection UnknownField")
}

func TestGenerate(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join(vectorRoot, "full_option", RawFile))
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "generated")

	gen, err := Generate(dir, raw, []string{"copied from full_option"})
	require.NoError(t, err)

	loaded, err := LoadCase(dir)
	require.NoError(t, err)
	assert.Equal(t, gen.Canonical, loaded.Canonical)
	assert.Equal(t, []string{"copied from full_option"}, loaded.Expected.Notes)
	assert.True(t, Verify(loaded).Passed)

	want, err := LoadCase(filepath.Join(vectorRoot, "full_option"))
	require.NoError(t, err)
	assert.Equal(t, want.Expected.Hash, loaded.Expected.Hash)

	_, err = Generate(dir, raw, nil)
	assert.Error(t, err, "existing vectors are not overwritten")
}

func TestGenerateRejection(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bad")
	v, err := Generate(dir, []byte(`{"version":"2.0.0"}`), nil)
	require.NoError(t, err)
	require.NotNil(t, v.Expected.Rejection)

	_, err = os.Stat(filepath.Join(dir, CanonicalFile))
	assert.ErrorIs(t, err, os.ErrNotExist)

	loaded, err := LoadCase(dir)
	require.NoError(t, err)
	assert.True(t, Verify(loaded).Passed)
	assert.Equal(t, []string{}, loaded.Expected.Notes)
}

func TestLoadSkipsNonVectors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))

	vectors, err := Load(root)
	require.NoError(t, err)
	assert.Empty(t, vectors)

	_, err = Load(filepath.Join(root, "missing"))
	assert.Error(t, err)
}
