package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCreatesAndAppends(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, ".csv")
	require.NoError(t, err)

	require.NoError(t, s.Append("walk", []string{"1,2,3", "4,5,6"}))
	require.NoError(t, s.Append("walk", []string{"7,8,9"}))

	data, err := os.ReadFile(filepath.Join(dir, "walk.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1,2,3\n4,5,6\n7,8,9\n", string(data))
}

func TestAppendSeparatesFilesByName(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "csv")
	require.NoError(t, err)

	require.NoError(t, s.Append("alpha", []string{"a"}))
	require.NoError(t, s.Append("beta", []string{"b"}))

	a, err := os.ReadFile(filepath.Join(dir, "alpha.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "beta.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(a))
	assert.Equal(t, "b\n", string(b))
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, ".csv")
	require.NoError(t, err)

	require.NoError(t, s.Append("idle", nil))
	_, err = os.Stat(filepath.Join(dir, "idle.csv"))
	assert.True(t, os.IsNotExist(err), "no file should be created for an empty batch")
}

func TestAppendReportsOpenFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, ".csv")
	require.NoError(t, err)

	// A directory where the file should be makes OpenFile fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "blocked.csv"), 0755))

	err = s.Append("blocked", []string{"x"})
	assert.ErrorIs(t, err, ErrWrite)
}

func TestNewFileSinkRejectsEmptyDir(t *testing.T) {
	_, err := NewFileSink("", ".csv")
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"walk", "walk"},
		{"", DefaultName},
		{"   ", DefaultName},
		{"..", DefaultName},
		{"../etc/passwd", ".._etc_passwd"},
		{`a\b:c`, "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.key))
		})
	}
}

func TestPathStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, ".csv")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(s.Path("../../escape")))
}
