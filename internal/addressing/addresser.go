// Package addressing derives the content identity of a variant output and
// the storage key and URLs that follow from it. Nothing here touches the
// network.
package addressing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"path"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mahirjain10/image-variants/internal/types"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

type Mode string

const (
	// ContentOnly hashes the output bytes alone.
	ContentOnly Mode = "content"
	// ContentAndMetadata folds the sorted caller metadata into the digest, so
	// identical pixels with different metadata are stored separately.
	ContentAndMetadata Mode = "content+metadata"
)

// DefaultExcludedKeys never participate in the digest: they change on every
// upload or describe where the bytes came from rather than what they are.
var DefaultExcludedKeys = []string{"uploaded-at", "digest", "source"}

type Options struct {
	Algorithm    Algorithm
	Mode         Mode
	ExcludedKeys []string

	Namespace      string
	CDNBaseURL     string
	Bucket         string
	ProviderDomain string
	RawScheme      string
	Region         string
	RegionAware    bool
}

type Addresser struct {
	opts     Options
	excluded map[string]bool
}

func New(opts Options) (*Addresser, error) {
	switch opts.Algorithm {
	case "":
		opts.Algorithm = SHA256
	case SHA256, BLAKE3:
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", opts.Algorithm)
	}
	switch opts.Mode {
	case "":
		opts.Mode = ContentOnly
	case ContentOnly, ContentAndMetadata:
	default:
		return nil, fmt.Errorf("unknown hash mode %q", opts.Mode)
	}
	if opts.ExcludedKeys == nil {
		opts.ExcludedKeys = DefaultExcludedKeys
	}
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if opts.ProviderDomain == "" {
		opts.ProviderDomain = "googleapis.com"
	}
	if opts.RawScheme == "" {
		opts.RawScheme = "gs"
	}
	if opts.RegionAware && opts.Region == "" {
		return nil, fmt.Errorf("region-aware addressing needs a region")
	}
	opts.CDNBaseURL = strings.TrimRight(opts.CDNBaseURL, "/")
	opts.Namespace = strings.Trim(opts.Namespace, "/")

	excluded := make(map[string]bool, len(opts.ExcludedKeys))
	for _, k := range opts.ExcludedKeys {
		excluded[strings.ToLower(k)] = true
	}
	return &Addresser{opts: opts, excluded: excluded}, nil
}

func (a *Addresser) Mode() Mode { return a.opts.Mode }

func (a *Addresser) newHash() hash.Hash {
	if a.opts.Algorithm == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Hash returns the hex digest of data. Metadata only counts in
// ContentAndMetadata mode, and excluded keys never do.
func (a *Addresser) Hash(data []byte, metadata map[string]string) string {
	h := a.newHash()
	h.Write(data)

	if a.opts.Mode == ContentAndMetadata {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			if !a.excluded[strings.ToLower(k)] {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			// The separator keeps "bytes+metadata" from colliding with
			// a longer byte stream that happens to end the same way.
			h.Write([]byte{0x00, 'm', 'e', 't', 'a', 0x00})
			for _, k := range keys {
				fmt.Fprintf(h, "%d:%s=%d:%s\n", len(k), k, len(metadata[k]), metadata[k])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileName builds "{digest}{.ext}". nameOrExt may be a bare extension
// ("webp", ".webp") or a file name whose extension is kept.
func (a *Addresser) FileName(nameOrExt, digest string) string {
	ext := nameOrExt
	if i := strings.LastIndex(nameOrExt, "."); i >= 0 {
		ext = nameOrExt[i+1:]
	}
	ext = strings.ToLower(ext)
	if ext == "" {
		return digest
	}
	return digest + "." + ext
}

// Folder groups the outputs of one variant: "{namespace}/{variant}".
func (a *Addresser) Folder(variant string) string {
	return path.Join(a.opts.Namespace, variant)
}

// Key is the storage path "{folder}/{digest}{.ext}".
func (a *Addresser) Key(variant string, key types.ContentKey) string {
	return path.Join(a.Folder(variant), a.FileName(key.Ext, key.Digest))
}

func (a *Addresser) ContentKey(data []byte, metadata map[string]string, format types.Format) types.ContentKey {
	return types.ContentKey{Digest: a.Hash(data, metadata), Ext: format.Ext()}
}

// URLsFor is a pure function of the key and the configured bases.
func (a *Addresser) URLsFor(storageKey string) types.URLSet {
	key := strings.TrimLeft(storageKey, "/")
	host := "storage." + a.opts.ProviderDomain
	if a.opts.RegionAware {
		host = fmt.Sprintf("storage.%s.rep.%s", a.opts.Region, a.opts.ProviderDomain)
	}
	return types.URLSet{
		CDN:    a.opts.CDNBaseURL + "/" + key,
		Direct: fmt.Sprintf("https://%s/%s/%s", host, a.opts.Bucket, key),
		Raw:    fmt.Sprintf("%s://%s/%s", a.opts.RawScheme, a.opts.Bucket, key),
	}
}
