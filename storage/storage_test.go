package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/config"
)

func TestRouter_LocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, err := NewStorage(ctx, config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)

	id := uuid.New()
	source, err := r.Upload(ctx, id, "hb 311.txt", strings.NewReader("13-63-101. Text"))
	require.NoError(t, err)
	assert.Contains(t, source, id.String()+"_hb_311.txt")

	text, err := ReadText(ctx, r, source)
	require.NoError(t, err)
	assert.Equal(t, "13-63-101. Text", text)

	require.NoError(t, r.Delete(ctx, source))
	_, err = ReadText(ctx, r, source)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadText_LocalPathAndFileScheme(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	path := filepath.Join(base, "bill.txt")
	require.NoError(t, os.WriteFile(path, []byte("Part 1. General"), 0o644))

	r, err := NewStorage(ctx, config.StorageConfig{LocalPath: base})
	require.NoError(t, err)

	for _, source := range []string{path, "file://" + path, "bill.txt"} {
		text, err := ReadText(ctx, r, source)
		require.NoError(t, err, source)
		assert.Equal(t, "Part 1. General", text, source)
	}
}

func TestReadText_ConfinedToBasePath(t *testing.T) {
	ctx := context.Background()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("TOP SECRET"), 0o644))

	base := t.TempDir()
	r, err := NewStorage(ctx, config.StorageConfig{LocalPath: base})
	require.NoError(t, err)

	rel, err := filepath.Rel(base, outside)
	require.NoError(t, err)

	for _, source := range []string{outside, "file://" + outside, rel, "../secret.txt"} {
		text, err := ReadText(ctx, r, source)
		assert.ErrorIs(t, err, ErrPathNotAllowed, source)
		assert.Empty(t, text, source)
	}

	assert.ErrorIs(t, r.Delete(ctx, outside), ErrPathNotAllowed)
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestReadText_AnyLocalPath(t *testing.T) {
	ctx := context.Background()
	outside := filepath.Join(t.TempDir(), "bill.txt")
	require.NoError(t, os.WriteFile(outside, []byte("Part 1. General"), 0o644))

	r, err := NewStorage(ctx, config.StorageConfig{LocalPath: t.TempDir(), AllowAnyLocalPath: true})
	require.NoError(t, err)

	text, err := ReadText(ctx, r, "file://"+outside)
	require.NoError(t, err)
	assert.Equal(t, "Part 1. General", text)
}

func TestReadText_RejectsBinary(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	path := filepath.Join(base, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0o644))

	r, err := NewStorage(ctx, config.StorageConfig{LocalPath: base})
	require.NoError(t, err)

	_, err = ReadText(ctx, r, path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRouter_UnknownScheme(t *testing.T) {
	r, err := NewStorage(context.Background(), config.StorageConfig{LocalPath: t.TempDir()})
	require.NoError(t, err)

	_, err = r.Download(context.Background(), "ftp://host/file.txt")
	assert.Error(t, err)
}

func TestNewStorage_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := NewStorage(ctx, config.StorageConfig{Type: "s3", LocalPath: t.TempDir()})
	assert.Error(t, err)

	_, err = NewStorage(ctx, config.StorageConfig{Type: "tape", LocalPath: t.TempDir()})
	assert.Error(t, err)
}

func TestSplitBucketURI(t *testing.T) {
	bucket, key, err := splitBucketURI("s3://statutes/ut/hb311.txt", "s3")
	require.NoError(t, err)
	assert.Equal(t, "statutes", bucket)
	assert.Equal(t, "ut/hb311.txt", key)

	_, _, err = splitBucketURI("gs://statutes/x", "s3")
	assert.Error(t, err)
}
