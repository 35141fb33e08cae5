package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSink_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	sink := NewDirSink(dir)

	loc, err := sink.Save(context.Background(), "video.mp4", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "video.mp4", filepath.Base(loc))

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	again, err := sink.Save(context.Background(), "video.mp4", strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, "video (1).mp4", filepath.Base(again))
}

func TestDirSink_StripsDirectories(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir)

	loc, err := sink.Save(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), loc)

	_, err = sink.Save(context.Background(), "..", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestDirSink_RemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir)

	_, err := sink.Save(context.Background(), "broken.bin", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirSink_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDirSink(t.TempDir()).Save(ctx, "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakePutObject struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakePutObject) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if in.Body != nil {
		b, _ := io.ReadAll(in.Body)
		f.body = string(b)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_Save(t *testing.T) {
	api := &fakePutObject{}
	sink := NewS3Sink(api, "media", "/eagleeye/")

	loc, err := sink.Save(context.Background(), "dir/poster.png", strings.NewReader("bytes"))
	require.NoError(t, err)

	assert.Equal(t, "s3://media/eagleeye/poster.png", loc)
	assert.Equal(t, "media", aws.ToString(api.in.Bucket))
	assert.Equal(t, "eagleeye/poster.png", aws.ToString(api.in.Key))
	assert.Equal(t, int64(5), aws.ToInt64(api.in.ContentLength))
	assert.Equal(t, "image/png", aws.ToString(api.in.ContentType))
	assert.Equal(t, "bytes", api.body)
}

func TestS3Sink_NoPrefix(t *testing.T) {
	api := &fakePutObject{}
	loc, err := NewS3Sink(api, "media", "").Save(context.Background(), "a.bin", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "s3://media/a.bin", loc)
}

func TestS3Sink_UploadError(t *testing.T) {
	api := &fakePutObject{err: errors.New("access denied")}
	_, err := NewS3Sink(api, "media", "").Save(context.Background(), "a.bin", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 upload a.bin")
}

func TestNewS3Client(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var got awsconfig.LoadOptions
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&got))
		}
		return aws.Config{Region: got.Region}, nil
	}

	c, err := NewS3Client(context.Background(), S3Config{
		Region:          "eu-central-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, "eu-central-1", got.Region)
	require.NotNil(t, got.Credentials)
	creds, err := got.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minio", creds.AccessKeyID)

	assert.Equal(t, "http://localhost:9000", aws.ToString(c.Options().BaseEndpoint))
	assert.True(t, c.Options().UsePathStyle)
}

func TestNewS3Client_LoadError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no profile")
	}

	_, err := NewS3Client(context.Background(), S3Config{})
	require.Error(t, err)
}

func TestS3Config_Enabled(t *testing.T) {
	assert.False(t, S3Config{}.Enabled())
	assert.True(t, S3Config{Bucket: "media"}.Enabled())
}
