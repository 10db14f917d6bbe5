package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorsVerifyShipped(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewVectorsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"verify", vectorsDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), markPass+" minimal_perp")
	assert.Contains(t, buf.String(), markPass+" reject_unknown_field")
	assert.Contains(t, buf.String(), "0 failed")
}

func TestVectorsVerifyJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewVectorsCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"verify", vectorsDir})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   VectorsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, resp.Data.Total, resp.Data.Passed)
	assert.NotZero(t, resp.Data.Total)
}

func TestVectorsVerifyFailure(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "tampered")
	require.NoError(t, os.MkdirAll(dir, 0755))
	raw, err := os.ReadFile(minimalPerpRaw())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.json"), raw, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "canonical.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "expected.json"),
		[]byte(`{"hash": "00", "byte_length": 2, "notes": []}`), 0644))

	buf := &bytes.Buffer{}
	cmd := NewVectorsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"verify", root})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), markFail+" tampered")
	assert.Contains(t, buf.String(), "canonical bytes differ")
}

func TestVectorsVerifyMissingDir(t *testing.T) {
	cmd := NewVectorsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"verify", filepath.Join(t.TempDir(), "absent")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVectorsGenerate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "minimal")

	buf := &bytes.Buffer{}
	cmd := NewVectorsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"generate", "--raw", minimalPerpRaw(), "--out", out, "--note", "copied"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), minimalPerpHash)

	canonical, err := os.ReadFile(filepath.Join(out, "canonical.json"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(vectorsDir, "minimal_perp", "canonical.json"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(canonical))

	// Refuses to overwrite.
	again := NewVectorsCommand(&RootOptions{Format: "text"})
	again.SetOut(&bytes.Buffer{})
	again.SetArgs([]string{"generate", "--raw", minimalPerpRaw(), "--out", out})
	err = again.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVectorsGenerateRejection(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reject_memo")

	buf := &bytes.Buffer{}
	cmd := NewVectorsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"generate", "--raw", filepath.Join(vectorsDir, "reject_unknown_field", "raw.json"), "--out", out})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "rejection UnknownField")
	assert.NoFileExists(t, filepath.Join(out, "canonical.json"))
}

func TestVectorsGenerateRequiresFlags(t *testing.T) {
	cmd := NewVectorsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"generate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
