package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryObjectStorage_UploadAndExists(t *testing.T) {
	s := NewMemoryObjectStorage("")
	ctx := context.Background()
	key := "team-1/inv-1/scan.pdf"

	exists, err := s.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	data := []byte("%PDF-1.7")
	require.NoError(t, s.Upload(ctx, key, data, "application/pdf"))
	data[0] = 'X'

	exists, err = s.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, ct, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.7", string(got), "stored bytes must not alias the caller's slice")
	assert.Equal(t, "application/pdf", ct)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryObjectStorage_DeleteObject(t *testing.T) {
	s := NewMemoryObjectStorage("")
	ctx := context.Background()
	require.NoError(t, s.Upload(ctx, "a/b/c.png", []byte{1}, "image/png"))

	require.NoError(t, s.DeleteObject(ctx, "a/b/c.png"))
	exists, err := s.ObjectExists(ctx, "a/b/c.png")
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("missing key is not an error", func(t *testing.T) {
		assert.NoError(t, s.DeleteObject(ctx, "a/b/c.png"))
	})
}

func TestMemoryObjectStorage_GenerateDownloadURL(t *testing.T) {
	s := NewMemoryObjectStorage("https://files.test/attachments")

	u, expiresAt, err := s.GenerateDownloadURL(context.Background(), "team/doc/file.pdf", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "https://files.test/attachments/team/doc/file.pdf?expires=")
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)
}

func TestMemoryObjectStorage_EmptyKey(t *testing.T) {
	s := NewMemoryObjectStorage("")
	ctx := context.Background()

	assert.ErrorIs(t, s.Upload(ctx, "", nil, "text/xml"), errKeyRequired)
	assert.ErrorIs(t, s.DeleteObject(ctx, ""), errKeyRequired)
	_, err := s.ObjectExists(ctx, "")
	assert.ErrorIs(t, err, errKeyRequired)
	_, _, err = s.GenerateDownloadURL(ctx, "", time.Minute)
	assert.ErrorIs(t, err, errKeyRequired)
}

func TestMemoryObjectStorage_Concurrent(t *testing.T) {
	s := NewMemoryObjectStorage("")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "k/" + string(rune('a'+i%26))
			_ = s.Upload(ctx, key, []byte{byte(i)}, "image/png")
			_, _ = s.ObjectExists(ctx, key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, s.Len())
}
