package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	key := Key("user-1", "doc-1")
	assert.Equal(t, "user-1/doc-1.pdf", key)

	require.NoError(t, fs.Put(ctx, key, []byte("%PDF-1.4")))
	data, err := fs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	require.NoError(t, fs.Put(ctx, key, []byte("%PDF-1.7")))
	data, err = fs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)

	require.NoError(t, fs.Delete(ctx, key))
	_, err = fs.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, fs.Delete(ctx, key))
}

func TestFS_RejectsTraversal(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape.pdf", "/etc/passwd", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, fs.Put(context.Background(), key, []byte("x")))
		})
	}
}
