package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// S3Sink writes one newline-delimited JSON object per archive batch,
// keyed by timestamp, suited to operators who want durable cold storage
// without running a database.
type S3Sink struct {
	client *s3.S3
	bucket string
	prefix string
}

func NewS3Sink(bucket, region, prefix string) (*S3Sink, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &S3Sink{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

func (s *S3Sink) Write(ctx context.Context, batch []message.Message) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range batch {
		if err := enc.Encode(toRecord(m)); err != nil {
			return fmt.Errorf("encode s3 batch record %d: %w", m.ID, err)
		}
	}

	key := fmt.Sprintf("%s/%s.jsonl", s.prefix, time.Now().UTC().Format("20060102T150405.000000000Z"))
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("put s3 object %s: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
