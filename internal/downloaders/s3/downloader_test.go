package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/store"
)

type fakeBucket struct {
	objects map[string][]byte
}

func (b *fakeBucket) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (b *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	total := int64(len(data))
	start, end := int64(0), total-1
	if rng := aws.ToString(in.Range); rng != "" {
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if end >= total {
			end = total - 1
		}
	}
	part := data[start : end+1]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(part)),
		ContentLength: aws.Int64(int64(len(part))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total)),
	}, nil
}

func (b *fakeBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(b.objects[k])))})
	}
	return out, nil
}

func newDownloader(t *testing.T, link string, bucket *fakeBucket, dir string) (*Downloader, *manager.File) {
	t.Helper()
	mgr := manager.New(store.NewMemoryStore(), events.NewBus(), manager.Options{})
	pkg, err := mgr.AddPackage(store.PackageRow{Name: "pkg", Queue: true})
	require.NoError(t, err)
	ids, err := mgr.AddLinks(pkg.ID, []manager.Link{{URL: link, Plugin: Name}})
	require.NoError(t, err)
	f, err := mgr.GetFile(ids[0])
	require.NoError(t, err)
	p, err := New(f, plugin.Env{DownloadDir: dir})
	require.NoError(t, err)
	d := p.(*Downloader)
	d.client = bucket
	return d, f
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://media/videos/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "videos/a.mp4", key)

	_, _, err = parseS3URL("s3://media/")
	assert.Error(t, err)
	_, _, err = parseS3URL("https://media/key")
	assert.Error(t, err)
}

func TestDownloadObject(t *testing.T) {
	payload := bytes.Repeat([]byte("s3"), 4096)
	bucket := &fakeBucket{objects: map[string][]byte{"videos/a.mp4": payload}}
	dir := t.TempDir()
	d, f := newDownloader(t, "s3://media/videos/a.mp4", bucket, dir)

	require.NoError(t, d.Process(context.Background(), f))
	got, err := os.ReadFile(filepath.Join(dir, "a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "a.mp4", f.Name())
	assert.Equal(t, int64(len(payload)), f.Size())
	assert.Equal(t, int64(0), d.Transfer().BytesLeft())
}

func TestDownloadFolder(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{
		"backups/":            {},
		"backups/db.sql":      []byte("create table"),
		"backups/logs/01.txt": []byte("line"),
	}}
	dir := t.TempDir()
	d, f := newDownloader(t, "s3://ops/backups/", bucket, dir)

	require.NoError(t, d.Process(context.Background(), f))
	assert.Equal(t, "backups", f.Name())
	assert.Equal(t, int64(16), f.Size())
	got, err := os.ReadFile(filepath.Join(dir, "backups", "logs", "01.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line", string(got))
	_, err = os.Stat(filepath.Join(dir, "backups", "db.sql"))
	assert.NoError(t, err)
}

func TestDownloadMissingObject(t *testing.T) {
	d, f := newDownloader(t, "s3://ops/nothing", &fakeBucket{objects: map[string][]byte{}}, t.TempDir())
	err := d.Process(context.Background(), f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDownloadAborted(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{"a.bin": []byte("data")}}
	dir := t.TempDir()
	d, f := newDownloader(t, "s3://b/a.bin", bucket, dir)
	d.Transfer().SetAbort(true)

	err := d.Process(context.Background(), f)
	assert.ErrorIs(t, err, plugin.ErrAborted)
	_, err = os.Stat(filepath.Join(dir, "a.bin"))
	assert.True(t, os.IsNotExist(err))
}
