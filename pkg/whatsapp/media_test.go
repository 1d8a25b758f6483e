package whatsapp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMedia(t *testing.T) {
	dir := t.TempDir()

	t.Run("mime from extension", func(t *testing.T) {
		path := filepath.Join(dir, "report.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0644))

		m, err := LoadMedia(path)
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", m.MimeType)
		assert.Equal(t, "report.pdf", m.Filename)
		assert.Equal(t, []byte("%PDF-1.4"), m.Data)
	})

	t.Run("mime sniffed without extension", func(t *testing.T) {
		path := filepath.Join(dir, "notes")
		require.NoError(t, os.WriteFile(path, []byte("plain words"), 0644))

		m, err := LoadMedia(path)
		require.NoError(t, err)
		assert.Equal(t, "text/plain; charset=utf-8", m.MimeType)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMedia(filepath.Join(dir, "gone.png"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
