package costfn

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autotune/internal/artifact"
)

func constant(v float64) *Descriptor {
	return &Descriptor{
		Name:  "const",
		Shape: artifact.Real1D,
		Score: func(*artifact.Artifact, Options) (float64, error) { return v, nil },
	}
}

func realArtifact(vals ...float64) *artifact.Artifact {
	return &artifact.Artifact{Shape: artifact.Real1D, Real: vals}
}

func TestRegister_Rejects(t *testing.T) {
	score := func(*artifact.Artifact, Options) (float64, error) { return 0, nil }
	tests := []struct {
		name string
		d    *Descriptor
	}{
		{"nil", nil},
		{"no name", &Descriptor{Shape: artifact.Real1D, Score: score}},
		{"no score", &Descriptor{Name: "x", Shape: artifact.Real1D}},
		{"bad shape", &Descriptor{Name: "x", Shape: "3d", Score: score}},
		{"bad default", &Descriptor{Name: "x", Shape: artifact.Real1D, Score: score,
			Options: []OptionSpec{{Name: "n", Kind: KindFloat, Default: "abc"}}}},
		{"enum without default", &Descriptor{Name: "x", Shape: artifact.Real1D, Score: score,
			Options: []OptionSpec{{Name: "mode", Kind: KindEnum, Choices: []string{"a"}}}}},
		{"repeated option", &Descriptor{Name: "x", Shape: artifact.Real1D, Score: score,
			Options: []OptionSpec{boundsOption, boundsOption}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.d); err == nil {
				t.Error("expected registration to fail")
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(constant(1)))
	dup := constant(2)
	dup.Name = "CONST"
	err := reg.Register(dup)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestGet_SuggestsClosestNames(t *testing.T) {
	reg := Default()

	d, err := reg.Get("MaxAbsInt")
	require.NoError(t, err)
	assert.Equal(t, "maxabsint", d.Name)

	_, err = reg.Get("maxabsnt")
	require.ErrorIs(t, err, ErrUnknownCostFunction)
	if !strings.Contains(err.Error(), "maxabsint") {
		t.Errorf("expected suggestion maxabsint in %q", err)
	}

	_, err = reg.Get("completely-different-thing")
	require.ErrorIs(t, err, ErrUnknownCostFunction)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestList_Sorted(t *testing.T) {
	infos := Default().List()
	require.NotEmpty(t, infos)
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Name >= infos[i].Name {
			t.Errorf("list not sorted at %d: %s >= %s", i, infos[i-1].Name, infos[i].Name)
		}
	}
}

func TestEvaluate_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		reg := NewRegistry()
		require.NoError(t, reg.Register(constant(v)))
		_, err := reg.Evaluate("const", realArtifact(1), nil)
		if !errors.Is(err, ErrNonFinite) {
			t.Errorf("cost %v: expected ErrNonFinite, got %v", v, err)
		}
	}
}

func TestEvaluate_ShapeMismatch(t *testing.T) {
	reg := Default()
	_, err := reg.Evaluate("minabsint", realArtifact(1, 2, 3), nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = reg.Evaluate("minrealint", &artifact.Artifact{Shape: artifact.Complex1D, Real: []float64{1}}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch, "malformed artifact")
}

func TestEvaluate_UnknownOption(t *testing.T) {
	_, err := Default().Evaluate("minrealint", realArtifact(1), map[string]string{"window": "1..2"})
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = Default().Evaluate("specdiff", realArtifact(1), map[string]string{"normalize": "median"})
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestCheck(t *testing.T) {
	reg := Default()
	assert.NoError(t, reg.Check("maxrealint", artifact.Complex1D, nil))
	assert.NoError(t, reg.Check("int2d_ri", artifact.Quad2D, map[string]string{"sign": "-1"}))
	assert.ErrorIs(t, reg.Check("asaphsqc", artifact.Real1D, nil), ErrShapeMismatch)
	assert.ErrorIs(t, reg.Check("minabsint", artifact.Real1D, nil), ErrShapeMismatch)
	assert.ErrorIs(t, reg.Check("nope", artifact.Real1D, nil), ErrUnknownCostFunction)
	assert.ErrorIs(t, reg.Check("minrealint", artifact.Real1D, map[string]string{"bounds": "x"}), ErrInvalidOption)
}
