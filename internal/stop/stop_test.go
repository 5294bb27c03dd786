package stop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlag(t *testing.T) {
	var f Flag
	if f.Stopped() {
		t.Fatal("expected zero Flag not to be stopped")
	}
	f.Stop()
	if !f.Stopped() {
		t.Error("expected Flag to be stopped after Stop")
	}
	f.Reset()
	if f.Stopped() {
		t.Error("expected Flag to be clear after Reset")
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "STOP")
	f := NewFile(path, time.Millisecond)
	assert.Equal(t, path, f.Path())
	assert.False(t, f.Stopped())

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	assert.Eventually(t, f.Stopped, time.Second, 5*time.Millisecond)

	// Latched even after the file goes away.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	assert.True(t, f.Stopped())
}

func TestFile_RateLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "STOP")
	f := NewFile(path, time.Hour)
	assert.False(t, f.Stopped())
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// The next stat is an hour away.
	assert.False(t, f.Stopped())
}

func TestAny(t *testing.T) {
	assert.False(t, Any().Stopped())
	assert.False(t, Any(nil, nil).Stopped())

	var a, b Flag
	s := Any(&a, nil, &b)
	assert.False(t, s.Stopped())
	b.Stop()
	assert.True(t, s.Stopped())

	single := Any(&a)
	assert.Same(t, &a, single.(*Flag))
}

func TestOS_Close(t *testing.T) {
	s := NewOS()
	assert.False(t, s.Stopped())
	s.Close()
}
