package gotest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModulePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module github.com/acme/app\n\ngo 1.24\n"), 0644))

	mod, err := ModulePath(dir)
	require.NoError(t, err)
	assert.Equal(t, "github.com/acme/app", mod)

	_, err = ModulePath(t.TempDir())
	require.Error(t, err)
}

func TestShortPackageName(t *testing.T) {
	tests := []struct {
		pkg, mod, want string
	}{
		{"github.com/acme/app/internal/x", "github.com/acme/app", "internal/x"},
		{"github.com/acme/app", "github.com/acme/app", "app"},
		{"github.com/acme/apps/y", "github.com/acme/app", "github.com/acme/apps/y"},
		{"github.com/acme/app/z", "", "github.com/acme/app/z"},
	}
	for _, tt := range tests {
		t.Run(tt.pkg, func(t *testing.T) {
			assert.Equal(t, tt.want, ShortPackageName(tt.pkg, tt.mod))
		})
	}
}

func TestOutputLines(t *testing.T) {
	lines := outputLines([]string{
		"=== RUN   TestA\n",
		"\x1b[32mok\x1b[0m\r\n",
		"\n",
		"first\nsecond\n",
	})
	assert.Equal(t, []string{"ok", "first", "second"}, lines)
}
