package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/danthegoodman1/avrosplit/s3_helper"
)

type (
	S3DataStore struct {
		sess   *session.Session
		client s3iface.S3API
		bucket string
	}

	// s3File reads through ranged GETs, one request per ReadAt
	s3File struct {
		ctx    context.Context
		client s3iface.S3API
		bucket string
		key    string
		size   int64
	}
)

func NewS3DataStore(cfg s3_helper.Config) (*S3DataStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("missing S3 bucket name")
	}
	sess, err := s3_helper.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &S3DataStore{
		sess:   sess,
		client: s3.New(sess),
		bucket: cfg.Bucket,
	}, nil
}

// OpenFile reads the object size up front. ctx bounds every later read of the handle.
func (sds *S3DataStore) OpenFile(ctx context.Context, key string) (File, error) {
	size, err := s3_helper.ObjectSize(ctx, sds.client, sds.bucket, key)
	if errors.Is(err, s3_helper.ErrNoSuchKey) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &s3File{ctx: ctx, client: sds.client, bucket: sds.bucket, key: key, size: size}, nil
}

func (f *s3File) SizeBytes() int64 {
	return f.size
}

func (f *s3File) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	want := p
	if rem := f.size - off; int64(len(p)) > rem {
		want = p[:rem]
	}
	n, err := s3_helper.ReadRangeFromS3(f.ctx, f.client, f.bucket, f.key, off, want)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *s3File) Close() error {
	return nil
}

func (sds *S3DataStore) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s3_helper.ListKeys(ctx, sds.client, sds.bucket, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (sds *S3DataStore) WriteFile(ctx context.Context, key string, r io.Reader) error {
	_, err := s3_helper.WriteBytesToS3(ctx, sds.sess, sds.bucket, key, r, nil)
	return err
}

func (sds *S3DataStore) Shutdown(context.Context) error {
	return nil
}
