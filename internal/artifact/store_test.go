package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_WritesAndReturnsHash(t *testing.T) {
	s := New(t.TempDir())
	res, err := s.Put("appen-crowdgen", "https://appen.com/jobs", "text/html", []byte("<html>hi</html>"))
	require.NoError(t, err)
	assert.Len(t, res.ContentHash, 64)
	assert.False(t, res.Deduplicated)

	b, err := s.Read(res.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "<html>hi</html>", string(b))
}

func TestPut_DeduplicatesIdenticalBytes(t *testing.T) {
	s := New(t.TempDir())
	content := []byte("same bytes twice")

	first, err := s.Put("clickworker", "https://clickworker.com", "text/html", content)
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)

	second, err := s.Put("clickworker", "https://clickworker.com", "text/html", content)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.StoragePath, second.StoragePath)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestPut_NoPartialFileVisibleUnderFinalPath(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	res, err := s.Put("oneforma-jobs", "https://oneforma.com", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, filepath.Dir(res.StoragePath)))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestStat_ReturnsMatchingMetadata(t *testing.T) {
	s := New(t.TempDir())
	content := []byte("stat me")
	res, err := s.Put("telus-ai-community", "https://telus.ai", "text/plain", content)
	require.NoError(t, err)

	meta, err := s.Stat(res.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, res.ContentHash, meta.ContentHash)
	assert.Equal(t, int64(len(content)), meta.ByteSize)
}

func TestVerifyHash_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	res, err := s.Put("prolific", "https://prolific.com", "text/html", []byte("original"))
	require.NoError(t, err)

	require.NoError(t, s.VerifyHash(res.StoragePath, res.ContentHash))

	require.NoError(t, os.WriteFile(filepath.Join(dir, res.StoragePath), []byte("tampered"), 0o644))
	err = s.VerifyHash(res.StoragePath, res.ContentHash)
	assert.Error(t, err)
}

func TestPathLayout_IncludesDateSourceAndHashPrefix(t *testing.T) {
	s := New(t.TempDir())
	res, err := s.Put("appen-crowdgen", "https://appen.com", "text/html", []byte("layout check"))
	require.NoError(t, err)

	parts := strings.Split(filepath.ToSlash(res.StoragePath), "/")
	require.Len(t, parts, 6)
	assert.Equal(t, fmt.Sprintf("%04d", time.Now().UTC().Year()), parts[0])
	assert.Len(t, parts[1], 2)
	assert.Len(t, parts[2], 2)
	assert.Contains(t, res.StoragePath, "appen-crowdgen")
	assert.Contains(t, res.StoragePath, res.ContentHash[:2])
	assert.Contains(t, res.StoragePath, res.ContentHash)
}
