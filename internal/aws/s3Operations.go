package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/storage"
	"github.com/mahirjain10/image-variants/internal/types"
)

// S3Service is the ObjectStore for the variants bucket and the reader for
// s3:// sources.
type S3Service struct {
	client     *s3.Client
	bucketName string
	uploader   *manager.Uploader
	timeout    time.Duration
	log        *zap.Logger
}

func NewS3Service(client *s3.Client, bucketName string, timeout time.Duration, log *zap.Logger) *S3Service {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &S3Service{
		client:     client,
		bucketName: bucketName,
		uploader:   manager.NewUploader(client),
		timeout:    timeout,
		log:        log.Named("s3"),
	}
}

func (service *S3Service) BucketName() string {
	return service.bucketName
}

func (service *S3Service) Exists(parentCtx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	_, err := service.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify("exists", key, err)
}

func (service *S3Service) Put(parentCtx context.Context, key string, body []byte, opts storage.PutOptions) error {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:            aws.String(service.bucketName),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		Metadata:          opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if _, err := service.uploader.Upload(ctx, input); err != nil {
		return classify("put", key, err)
	}
	service.log.Debug("put object", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

// DownloadFromS3Object reads an object into memory, refusing bodies larger
// than limit bytes.
func (service *S3Service) DownloadFromS3Object(parentCtx context.Context, bucket, key string, limit int64) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()
	if bucket == "" {
		bucket = service.bucketName
	}

	resp, err := service.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("couldn't download object with key: %s, AWS error: %w", key, err)
	}
	defer resp.Body.Close()

	if limit > 0 && resp.ContentLength != nil && *resp.ContentLength > limit {
		return nil, "", fmt.Errorf("object %s is %d bytes, limit is %d", key, *resp.ContentLength, limit)
	}
	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object data: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", fmt.Errorf("object %s exceeds limit of %d bytes", key, limit)
	}
	return data, aws.ToString(resp.ContentType), nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *smithyhttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// classify maps SDK failures onto upload reasons. Anything unrecognised is
// treated as a network fault.
func classify(op, key string, err error) error {
	reason := types.UploadNetwork

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled", "ExpiredToken":
			reason = types.UploadPermission
		case "SlowDown", "TooManyRequests", "QuotaExceeded", "RequestLimitExceeded", "ServiceUnavailable":
			reason = types.UploadQuota
		}
	}
	var re *smithyhttp.ResponseError
	if reason == types.UploadNetwork && errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case http.StatusForbidden, http.StatusUnauthorized:
			reason = types.UploadPermission
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			reason = types.UploadQuota
		}
	}
	return &types.UploadError{Reason: reason, Op: op, Key: key, Err: err}
}
