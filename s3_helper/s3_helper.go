package s3_helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/avrosplit/gologger"
	"github.com/danthegoodman1/avrosplit/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()

	ErrNoSuchKey = errors.New("no such key")
)

type Config struct {
	Region   string
	Endpoint string
	Bucket   string
	// Credentials defaults to the AWS_* environment variables
	Credentials    *credentials.Credentials
	ForcePathStyle bool
}

func ConfigFromEnv() Config {
	return Config{
		Region:         utils.AWS_DEFAULT_REGION,
		Endpoint:       utils.S3_ENDPOINT,
		Bucket:         utils.S3_BUCKET_NAME,
		ForcePathStyle: utils.S3_ENDPOINT != "",
	}
}

func NewSession(cfg Config) (*session.Session, error) {
	creds := cfg.Credentials
	if creds == nil {
		creds = credentials.NewEnvCredentials()
	}
	s3Config := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      creds,
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return s3Session, nil
}

func WriteBytesToS3(ctx context.Context, sess *session.Session, bucket, fileName string, byteStream io.Reader, contentType *string) (*s3manager.UploadOutput, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	uploader := s3manager.NewUploader(sess)

	input := &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(fileName),
		Body:        byteStream,
		ContentType: contentType,
	}

	s := time.Now()
	output, err := uploader.UploadWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("fileName", fileName).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")

	return output, nil
}

// ObjectSize returns the content length of an object.
func ObjectSize(ctx context.Context, client s3iface.S3API, bucket, key string) (int64, error) {
	out, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrNoSuchKey, key)
		}
		return 0, fmt.Errorf("error in HeadObject: %w", err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

// ReadRangeFromS3 fills p with the object bytes starting at off using a ranged GET.
func ReadRangeFromS3(ctx context.Context, client s3iface.S3API, bucket, key string, off int64, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrNoSuchKey, key)
		}
		return 0, fmt.Errorf("error in GetObject: %w", err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	return n, err
}

// ListKeys lists every key under prefix, following pagination.
func ListKeys(ctx context.Context, client s3iface.S3API, bucket, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("error in ListObjectsV2Pages: %w", err)
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
