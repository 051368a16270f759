package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// putObjectAPI is the slice of *s3.Client the writer needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer implements domain.BlobWriter with single-request PutObject uploads.
type Writer struct {
	api    putObjectAPI
	bucket string
	key    func(string) string
}

// NewWriter creates a Writer on c's bucket and prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.s3, bucket: c.bucket, key: c.objectKey}
}

// Put uploads data to path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := w.key(path)
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
