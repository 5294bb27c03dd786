package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs(" p1=30, d1 = 2 ,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]float64{"p1": 30, "d1": 2}, got); diff != "" {
		t.Errorf("pairs mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"p1", "p1=x"} {
		if _, err := parsePairs(bad); err == nil {
			t.Errorf("expected an error for %q", bad)
		}
	}
}
