package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p90.yaml", p90YAML)
	writeFile(t, dir, "shim.json", `{
  "name": "shim",
  "parameters": [
    {"name": "z1", "lb": -500, "ub": 500, "init": 0, "tol": 5},
    {"name": "z2", "lb": -500, "ub": 500, "init": 0, "tol": 5}
  ],
  "cost_function": "maxrealint",
  "algorithm": "bobyqa"
}`)
	path := writeFile(t, dir, "batch.yaml", `
name: morning
bridge:
  target: exec:simhost -model pulse
items:
  - routine: p90.yaml
  - name: shim-fast
    routine: shim.json
    max_evaluations: 60
    keep_optimized: true
  - name: inline-pw
    algorithm: mds
    inline:
      name: pw
      parameters:
        - {name: pw, lb: 1, ub: 20, init: 8, unit: us}
      cost_function: minabsint
      shape: 1d-complex
`)
	b, err := LoadBatch(path, nil)
	require.NoError(t, err)
	require.Len(t, b.Routines, 3)

	assert.Equal(t, "p90", b.Items[0].Name)
	assert.Equal(t, 40, b.Routines[0].MaxEvaluations)
	assert.Equal(t, 60, b.Routines[1].MaxEvaluations)
	assert.Equal(t, "bobyqa", b.Routines[1].Algorithm)
	assert.Equal(t, "mds", b.Routines[2].Algorithm)
	assert.Equal(t, 500, b.Routines[2].MaxEvaluations)

	items := b.SequencerItems()
	require.Len(t, items, 3)
	assert.Equal(t, "shim-fast", items[1].Name)
	assert.True(t, items[1].KeepOptimized)
	assert.False(t, items[0].KeepOptimized)
	assert.Equal(t, []string{"z1", "z2"}, items[1].Run.Space.Names())
	assert.Equal(t, "1d-complex", string(items[2].Run.Shape))

	require.NotNil(t, b.BridgeSettings())
	assert.Equal(t, "exec:simhost -model pulse", b.BridgeSettings().Target)
}

func TestLoadBatch_BridgeFromRoutine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p90.yaml", p90YAML)
	path := writeFile(t, dir, "batch.json", `{"items": [{"routine": "p90.yaml"}]}`)
	b, err := LoadBatch(path, nil)
	require.NoError(t, err)
	require.NotNil(t, b.BridgeSettings())
	assert.Equal(t, "tcp://localhost:7070", b.BridgeSettings().Target)
}

func TestLoadBatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no items", `{"items": []}`, "items"},
		{"neither routine nor inline", `{"items": [{"name": "x"}]}`, "routine"},
		{"both routine and inline", `{"items": [{"routine": "p90.yaml", "inline": {"name":"i","parameters":[{"name":"p","lb":0,"ub":1,"init":0.5}],"cost_function":"minrealint"}}]}`, "routine"},
		{"missing routine file", `{"items": [{"routine": "nope.yaml"}]}`, "item 1"},
		{"invalid override", `{"items": [{"routine": "p90.yaml", "algorithm": "anneal"}]}`, "unknown algorithm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "p90.yaml", p90YAML)
			_, err := LoadBatch(writeFile(t, dir, "batch.json", tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
