package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/types"
	"github.com/mahirjain10/image-variants/internal/utils"
)

// Index remembers keys already known to exist, saving the store round trip.
// It is an optimisation only: a miss always falls through to the store.
type Index interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// URLResolver turns a storage key into its public URLs.
type URLResolver interface {
	URLsFor(storageKey string) types.URLSet
}

type PutRequest struct {
	Key         string
	Digest      string
	Body        []byte
	ContentType string
	Tags        map[string]string
}

// DedupStore writes each distinct key at most once per check. Two
// concurrent writers of the same new key can both see it absent and both
// write; the bytes are identical so the last write wins harmlessly.
type DedupStore struct {
	store  ObjectStore
	index  Index
	urls   URLResolver
	policy utils.RetryPolicy
	now    func() time.Time
	log    *zap.Logger
}

type Option func(*DedupStore)

func WithIndex(index Index) Option {
	return func(d *DedupStore) { d.index = index }
}

func WithClock(now func() time.Time) Option {
	return func(d *DedupStore) { d.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(d *DedupStore) { d.log = log }
}

func NewDedupStore(store ObjectStore, urls URLResolver, policy utils.RetryPolicy, opts ...Option) *DedupStore {
	d := &DedupStore{
		store:  store,
		urls:   urls,
		policy: policy,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PutIfAbsent returns the existing object without transferring bytes when
// the key is present, otherwise uploads it once with immutable caching.
func (d *DedupStore) PutIfAbsent(ctx context.Context, req PutRequest) (*types.StoredObject, error) {
	if req.Key == "" {
		return nil, errors.New("storage key is required")
	}
	log := d.log.With(zap.String("key", req.Key))
	obj := &types.StoredObject{Key: req.Key, Digest: req.Digest, URLs: d.urls.URLsFor(req.Key)}

	if d.index != nil {
		seen, err := d.index.Seen(ctx, req.Key)
		if err != nil {
			log.Warn("dedup index lookup failed, falling back to store", zap.Error(err))
		} else if seen {
			log.Debug("dedup index hit")
			obj.Existed = true
			return obj, nil
		}
	}

	var exists bool
	err := utils.Retry(ctx, d.retryPolicy(log, "exists"), types.IsRetryable, func(ctx context.Context) error {
		var err error
		exists, err = d.store.Exists(ctx, req.Key)
		return err
	})
	if err != nil {
		return nil, asUploadError(err, "exists", req.Key)
	}

	if exists {
		log.Debug("object already stored, skipping upload")
		obj.Existed = true
		d.mark(ctx, log, req.Key)
		return obj, nil
	}

	opts := PutOptions{
		ContentType:  req.ContentType,
		CacheControl: CacheControlImmutable,
		Metadata:     d.metadata(req),
	}
	err = utils.Retry(ctx, d.retryPolicy(log, "put"), types.IsRetryable, func(ctx context.Context) error {
		return d.store.Put(ctx, req.Key, req.Body, opts)
	})
	if err != nil {
		return nil, asUploadError(err, "put", req.Key)
	}
	log.Info("uploaded object", zap.Int("bytes", len(req.Body)))
	d.mark(ctx, log, req.Key)
	return obj, nil
}

func (d *DedupStore) metadata(req PutRequest) map[string]string {
	md := make(map[string]string, len(req.Tags)+2)
	for k, v := range req.Tags {
		md[k] = v
	}
	md["digest"] = req.Digest
	md["uploaded-at"] = d.now().UTC().Format(time.RFC3339)
	return md
}

func (d *DedupStore) mark(ctx context.Context, log *zap.Logger, key string) {
	if d.index == nil {
		return
	}
	if err := d.index.Mark(ctx, key); err != nil {
		log.Warn("failed to record key in dedup index", zap.Error(err))
	}
}

func (d *DedupStore) retryPolicy(log *zap.Logger, op string) utils.RetryPolicy {
	p := d.policy
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("storage call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	return p
}

// asUploadError keeps typed store errors and files everything else
// (timeouts, cancellations) under network.
func asUploadError(err error, op, key string) error {
	var ue *types.UploadError
	if errors.As(err, &ue) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return &types.UploadError{Reason: types.UploadNetwork, Op: op, Key: key, Err: err}
}
