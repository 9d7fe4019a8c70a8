package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"abc.pdf", false},
		{"3f2c9a1e-aaaa-bbbb-cccc-000000000000.pdf", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc/passwd", true},
		{"a/b.pdf", true},
		{`a\b.pdf`, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalStore_PutOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "certs"))
	require.NoError(t, err)

	ctx := context.Background()

	_, _, err = store.Open(ctx, "missing.pdf")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "one.pdf", []byte("%PDF-1.4 one")))

	rc, size, err := store.Open(ctx, "one.pdf")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 one", string(data))
	assert.Equal(t, int64(len(data)), size)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files should remain after a successful put")
	assert.Equal(t, "one.pdf", entries[0].Name())
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../escape.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = store.Open(context.Background(), "../escape.pdf")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLocalStore_RequiresDir(t *testing.T) {
	_, err := NewLocalStore("")
	assert.Error(t, err)
}

func TestLocalStore_ConcurrentPut(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("a"), 64*1024)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(context.Background(), "same.pdf", payload))
		}()
	}
	wg.Wait()

	rc, size, err := store.Open(context.Background(), "same.pdf")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len(payload)), size)
}

func TestLocalStore_SweepTemp(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	stale := filepath.Join(store.Dir(), "a.pdf.123.tmp")
	fresh := filepath.Join(store.Dir(), "b.pdf.456.tmp")
	committed := filepath.Join(store.Dir(), "c.pdf")
	for _, p := range []string{stale, fresh, committed} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(committed, old, old))

	removed, err := store.SweepTemp(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, committed)
}

func TestNew(t *testing.T) {
	t.Run("local default", func(t *testing.T) {
		store, err := New(context.Background(), Config{Dir: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStore{}, store)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(context.Background(), Config{Backend: "ftp"})
		assert.Error(t, err)
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		_, err := New(context.Background(), Config{Backend: BackendS3})
		assert.Error(t, err)
	})
}

// mockS3 is an in-memory S3API.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	getErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Key)
	m.objects[key] = data
	m.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_PutOpen(t *testing.T) {
	client := newMockS3()
	store := NewS3StoreWithClient(client, "bucket", "certs")
	ctx := context.Background()

	_, _, err := store.Open(ctx, "x.pdf")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "x.pdf", []byte("%PDF-1.7\n")))

	_, ok := client.objects["certs/x.pdf"]
	assert.True(t, ok, "object should be stored under the prefix")
	assert.True(t, strings.HasPrefix(client.types["certs/x.pdf"], "application/pdf"))

	rc, size, err := store.Open(ctx, "x.pdf")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(9), size)
}

func TestS3Store_OpenError(t *testing.T) {
	client := newMockS3()
	client.getErr = errors.New("connection reset")
	store := NewS3StoreWithClient(client, "bucket", "")

	_, _, err := store.Open(context.Background(), "x.pdf")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestS3Options_Validate(t *testing.T) {
	assert.Error(t, S3Options{}.Validate())
	assert.Error(t, S3Options{Bucket: "b", AccessKeyID: "id"}.Validate())
	assert.NoError(t, S3Options{Bucket: "b"}.Validate())
	assert.NoError(t, S3Options{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "s"}.Validate())
}
