package s3

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/compression"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

type upload struct {
	bucket, key string
	body        []byte
	metadata    map[string]string
}

type fakeUploader struct {
	uploads []upload
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, upload{
		bucket:   aws.ToString(input.Bucket),
		key:      aws.ToString(input.Key),
		body:     body,
		metadata: input.Metadata,
	})
	return &manager.UploadOutput{Location: "s3://" + aws.ToString(input.Bucket) + "/" + aws.ToString(input.Key)}, nil
}

func newSink(t *testing.T, prefix, algorithm string, uploader Uploader) *Sink {
	t.Helper()
	sink, err := NewWithUploader(config.SinkConfig{
		Type:        SinkName,
		Compression: algorithm,
		S3:          config.S3SinkConfig{Bucket: "events", Prefix: prefix},
	}, uploader, zap.NewNop())
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC) }
	return sink
}

func TestSink_UploadsOneObjectPerBatch(t *testing.T) {
	uploader := &fakeUploader{}
	sink := newSink(t, "/withsecure/", "none", uploader)

	require.NoError(t, sink.Push(context.Background(), []string{`{"id":1}`, `{"id":2}`}))
	require.NoError(t, sink.Push(context.Background(), []string{`{"id":3}`}))

	require.Len(t, uploader.uploads, 2)
	assert.Equal(t, "events", uploader.uploads[0].bucket)
	assert.Equal(t, "withsecure/2024/03/09/20240309T101112Z-000001.jsonl", uploader.uploads[0].key)
	assert.Equal(t, "withsecure/2024/03/09/20240309T101112Z-000002.jsonl", uploader.uploads[1].key)
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", string(uploader.uploads[0].body))
	assert.Equal(t, "2", uploader.uploads[0].metadata["events"])
}

func TestSink_Compressed(t *testing.T) {
	uploader := &fakeUploader{}
	sink := newSink(t, "", "gzip", uploader)

	require.NoError(t, sink.Push(context.Background(), []string{`{"id":1}`}))
	require.Len(t, uploader.uploads, 1)
	assert.Equal(t, "2024/03/09/20240309T101112Z-000001.jsonl.gz", uploader.uploads[0].key)

	c, err := compression.NewCompressor(compression.DefaultConfig())
	require.NoError(t, err)
	plain, err := c.Decompress(uploader.uploads[0].body)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1}\n", string(plain))
}

func TestSink_UploadError(t *testing.T) {
	sink := newSink(t, "", "", &fakeUploader{err: stderrors.New("access denied")})

	err := sink.Push(context.Background(), []string{`{"id":1}`})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePush))
}

func TestNewWithUploader_RequiresBucket(t *testing.T) {
	_, err := NewWithUploader(config.SinkConfig{}, &fakeUploader{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistered(t *testing.T) {
	assert.True(t, registry.HasSink(SinkName))
}
