package archive

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/spendtrack/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	name := ObjectName("statement.csv", time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC))
	uri, err := store.Put(ctx, name, strings.NewReader("01/05/2024,-5.00,CAFE\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file:///"), uri)
	assert.True(t, strings.HasSuffix(uri, "-statement.csv"), uri)

	rc, err := store.Open(ctx, uri)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "01/05/2024,-5.00,CAFE\n", string(b))
}

func TestLocalStore_RejectsEscapes(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(ctx, "../outside.csv", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = store.Open(ctx, "file:///etc/passwd")
	assert.Error(t, err)

	_, err = store.Open(ctx, "gs://bucket/object.csv")
	assert.Error(t, err)

	_, err = NewLocalStore("")
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	a := ObjectName("dir/Jan.csv", now)
	b := ObjectName("dir/Jan.csv", now)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "2024-05-01/"), a)
	assert.True(t, strings.HasSuffix(a, "-Jan.csv"), a)

	assert.True(t, strings.HasSuffix(ObjectName(`C:\Users\me\feb.csv`, now), "-feb.csv"))
	assert.True(t, strings.HasSuffix(ObjectName("", now), "-upload.csv"))
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://my-bucket/uploads/2024/file.csv")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "uploads/2024/file.csv", object)

	for _, bad := range []string{"s3://b/o", "gs://bucket", "gs://bucket/", "gs:///object"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestFilenameFromURI(t *testing.T) {
	assert.Equal(t, "file.csv", FilenameFromURI("gs://bucket/folder/file.csv"))
	assert.Equal(t, "bucket", FilenameFromURI("gs://bucket"))
	assert.Equal(t, "jan.csv", FilenameFromURI("file:///var/spendtrack/2024-01-01/jan.csv"))
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := NewFromConfig(ctx, config.ArchiveConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
	assert.NoError(t, closeFn())

	_, _, err = NewFromConfig(ctx, config.ArchiveConfig{Backend: "s3"})
	assert.Error(t, err)
}
