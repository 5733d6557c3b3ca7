package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/transformation"
	"github.com/mahirjain10/image-variants/internal/types"
	"github.com/mahirjain10/image-variants/internal/utils"
)

// S3Reader reads s3:// sources.
type S3Reader interface {
	DownloadFromS3Object(ctx context.Context, bucket, key string, limit int64) ([]byte, string, error)
}

type Fetcher struct {
	client   *http.Client
	s3       S3Reader
	policy   utils.RetryPolicy
	maxBytes int64
	log      *zap.Logger
}

// NewFetcher builds a fetcher. s3 may be nil, in which case s3:// sources
// are rejected.
func NewFetcher(client *http.Client, s3 S3Reader, policy utils.RetryPolicy, maxBytes int64, log *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{client: client, s3: s3, policy: policy, maxBytes: maxBytes, log: log.Named("fetch")}
}

// IsRemote reports whether source has to be downloaded into scratch space.
func IsRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "s3://")
}

// Load resolves any supported source form. Remote sources are written to
// dir and marked Temporary.
func (f *Fetcher) Load(ctx context.Context, source, dir string) (*types.SourceImage, error) {
	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return f.FetchS3(ctx, source, dir)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return f.Fetch(ctx, source, dir)
	default:
		return f.Open(source)
	}
}

// Fetch downloads an http(s) URL with retries. 5xx, 429 and transport
// failures are retried; other 4xx responses are final.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (*types.SourceImage, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &types.ValidationError{Field: "source", Message: fmt.Sprintf("invalid remote url %q", rawURL)}
	}
	log := f.log.With(zap.String("source", rawURL))

	var body []byte
	var declared string
	policy := f.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("download failed, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
	}
	err = utils.Retry(ctx, policy, types.IsRetryable, func(ctx context.Context) error {
		var err error
		body, declared, err = f.get(ctx, rawURL)
		return err
	})
	if err != nil {
		var fe *types.FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &types.FetchError{URL: rawURL, Retryable: true, Err: err}
	}
	log.Debug("downloaded source", zap.Int("bytes", len(body)))
	return f.persist(rawURL, body, declared, u.Path, dir)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &types.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &types.FetchError{URL: rawURL, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, "", &types.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Retryable: retryable, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, "", f.tooLarge(rawURL, resp.ContentLength)
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", &types.FetchError{URL: rawURL, Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, "", f.tooLarge(rawURL, int64(len(data)))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) tooLarge(rawURL string, size int64) error {
	return &types.FetchError{URL: rawURL, Err: fmt.Errorf("body of %d bytes exceeds limit of %d", size, f.maxBytes)}
}

// FetchS3 reads s3://bucket/key through the configured S3Reader.
func (f *Fetcher) FetchS3(ctx context.Context, source, dir string) (*types.SourceImage, error) {
	if f.s3 == nil {
		return nil, &types.ValidationError{Field: "source", Message: "s3 sources need the s3 storage backend"}
	}
	u, err := url.Parse(source)
	if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return nil, &types.ValidationError{Field: "source", Message: fmt.Sprintf("invalid s3 url %q", source)}
	}
	key := strings.TrimPrefix(u.Path, "/")

	var body []byte
	var declared string
	err = utils.Retry(ctx, f.policy, utils.IsTransientError, func(ctx context.Context) error {
		var err error
		body, declared, err = f.s3.DownloadFromS3Object(ctx, u.Host, key, f.maxBytes)
		return err
	})
	if err != nil {
		return nil, &types.FetchError{URL: source, Retryable: utils.IsTransientError(err), Err: err}
	}
	return f.persist(source, body, declared, key, dir)
}

func (f *Fetcher) persist(origin string, body []byte, declared, name, dir string) (*types.SourceImage, error) {
	mimeType, format := transformation.DetectFormat(body, declared, name)
	path, err := utils.PathUtil(dir, uuid.NewString()+extFor(format))
	if err != nil {
		return nil, err
	}
	if err := utils.WriteImageBuffer(path, body); err != nil {
		return nil, err
	}
	src := &types.SourceImage{
		Origin:    origin,
		Path:      path,
		Data:      body,
		MIME:      mimeType,
		Format:    format,
		Size:      int64(len(body)),
		Temporary: true,
	}
	fillDimensions(src)
	return src, nil
}

// Open reads a local file in place; nothing is copied into scratch space.
func (f *Fetcher) Open(path string) (*types.SourceImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &types.ValidationError{Field: "source", Message: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	if info.IsDir() {
		return nil, &types.ValidationError{Field: "source", Message: path + " is a directory"}
	}
	data, err := utils.ReadImageBuffer(path)
	if err != nil {
		return nil, err
	}
	mimeType, format := transformation.DetectFormat(data, "", path)
	src := &types.SourceImage{
		Origin: path,
		Path:   path,
		Data:   data,
		MIME:   mimeType,
		Format: format,
		Size:   int64(len(data)),
	}
	fillDimensions(src)
	return src, nil
}

// fillDimensions reads the header only; formats without a registered
// decoder keep zero dimensions.
func fillDimensions(src *types.SourceImage) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data)); err == nil {
		src.Width, src.Height = cfg.Width, cfg.Height
	}
}

func extFor(format string) string {
	switch format {
	case "":
		return ".bin"
	case "jpeg":
		return ".jpg"
	default:
		return "." + format
	}
}
