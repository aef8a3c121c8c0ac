package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "paragraphs",
			in:   "First paragraph.\n\nSecond paragraph.\n",
			want: []string{"First paragraph.", "Second paragraph."},
		},
		{
			name: "verse keeps line breaks",
			in:   "line one\nline two\n\n\n\nline three",
			want: []string{"line one\nline two", "line three"},
		},
		{
			name: "windows line endings and whitespace-only separators",
			in:   "\ufeffA\r\nB  \r\n \t \r\nC\r\n",
			want: []string{"A\nB", "C"},
		},
		{
			name: "leading indentation is kept",
			in:   "\n\n    indented\n",
			want: []string{"    indented"},
		},
		{
			name: "empty",
			in:   "\n \n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitText(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitText_LineTooLong(t *testing.T) {
	_, err := SplitText(strings.NewReader(strings.Repeat("x", maxLineBytes+1)))
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.txt")
	require.NoError(t, os.WriteFile(path, []byte("Война и мир.\n\nТом первый."), 0o644))
	blocks, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Война и мир.", "Том первый."}, blocks)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
