package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	set := Defaults()

	assert.NotEmpty(t, set.ImageAnalyst.Role)
	assert.NotEmpty(t, set.QueryWriter.Role)
	assert.NotEmpty(t, set.ListingJudge.Role)
	// Prompt overrides are opt-in only.
	assert.Empty(t, set.ImageAnalyst.Prompt)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), set)
}

func TestLoad_OverridesMergeOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	content := `
query_writer:
  goal: "Write queries for bicycles only."
listing_judge:
  prompt: "Custom evaluation instructions."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	set, err := Load(path)
	require.NoError(t, err)

	defaults := Defaults()
	// Overridden fields changed.
	assert.Equal(t, "Write queries for bicycles only.", set.QueryWriter.Goal)
	assert.Equal(t, "Custom evaluation instructions.", set.ListingJudge.Prompt)
	// Everything else kept from defaults.
	assert.Equal(t, defaults.QueryWriter.Role, set.QueryWriter.Role)
	assert.Equal(t, defaults.ImageAnalyst, set.ImageAnalyst)
	assert.Equal(t, defaults.ListingJudge.Backstory, set.ListingJudge.Backstory)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query_writer: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPreamble(t *testing.T) {
	p := Persona{Role: "Tester", Goal: "Test things.", Backstory: "Long history of testing."}

	got := p.Preamble()

	assert.Contains(t, got, "You are a Tester.")
	assert.Contains(t, got, "Test things.")
	assert.Contains(t, got, "Long history of testing.")
}
