package s3

import (
	"bytes"
	"context"
	"errors"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNoReport is returned by LatestReport when nothing is archived below the
// prefix.
var ErrNoReport = errors.New("no report found")

// Client archives raw scanner reports in one bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey string, useSSL bool, region, bucket string) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

// EnsureBucket creates the report bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ok, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
}

// PutReport implements the scanner.Archive interface.
func (c *Client) PutReport(ctx context.Context, key string, data []byte) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

// GetReport returns a previously archived report.
func (c *Client) GetReport(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LatestReport returns the key and contents of the lexically greatest object
// below prefix. Report keys end in a sortable timestamp, so this is the newest
// report.
func (c *Client) LatestReport(ctx context.Context, prefix string) (string, []byte, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel() // stops the listing goroutine on early return

	var latest string
	for obj := range c.mc.ListObjects(listCtx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return "", nil, obj.Err
		}
		if obj.Key > latest {
			latest = obj.Key
		}
	}
	if latest == "" {
		return "", nil, ErrNoReport
	}
	data, err := c.GetReport(ctx, latest)
	if err != nil {
		return "", nil, err
	}
	return latest, data, nil
}
