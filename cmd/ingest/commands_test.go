package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"_id": "abc123",
		"name": "behavior_001",
		"subject": {"subject_id": "S1"},
		"data_description": {"modality": "behavior"},
		"rig": {"rig_id": "R1"},
		"schema_version": "1.1.0"
	}`), 0o644))

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"inspect", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	var out struct {
		Group          string   `json:"group"`
		EmbedFields    []string `json:"embed_fields"`
		MetadataFields []string `json:"metadata_fields"`
		Chunks         []struct {
			PageContent string                 `json:"page_content"`
			Metadata    map[string]interface{} `json:"metadata"`
		} `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	assert.Equal(t, "physio", out.Group)
	assert.Equal(t, []string{"data_description", "rig", "subject"}, out.EmbedFields)
	require.Len(t, out.Chunks, 1)
	assert.Equal(t, "abc123", out.Chunks[0].Metadata["original_id"])
	assert.Equal(t, "S1", out.Chunks[0].Metadata["subject_id"])
}

func TestInspectCommand_MissingFile(t *testing.T) {
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "missing.json")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Error(t, rootCmd.Execute())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
