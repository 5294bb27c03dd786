package version

import "testing"

func TestString(t *testing.T) {
	defer func(v, sha, bt string) { Version, GitSHA, BuildTime = v, sha, bt }(Version, GitSHA, BuildTime)
	Version, GitSHA, BuildTime = "0.3.0", "abc123", "2026-03-14T09:00:00Z"

	want := "0.3.0 (commit abc123, built 2026-03-14T09:00:00Z)"
	if got := String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
