package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Pipeline steps, used in logs and itemised errors.
const (
	StepQueue     = "queue" // waiting for a parallelism slot
	StepFetch     = "fetch"
	StepValidate  = "validate"
	StepTranscode = "transcode"
	StepAddress   = "address"
	StepUpload    = "upload"
)

// ValidationError is rejected immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

type TranscodeReason string

const (
	DecodeFailed      TranscodeReason = "decode-failed"
	EncodeFailed      TranscodeReason = "encode-failed"
	UnsupportedFormat TranscodeReason = "unsupported-format"
)

// TranscodeError is terminal for a single variant.
type TranscodeError struct {
	Reason TranscodeReason
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

type UploadReason string

const (
	UploadNetwork    UploadReason = "network"
	UploadPermission UploadReason = "permission"
	UploadQuota      UploadReason = "quota"
)

// UploadError covers both the existence check and the write. All reasons
// are retryable by the caller.
type UploadError struct {
	Reason UploadReason
	Op     string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s %s failed (%s): %v", e.Op, e.Key, e.Reason, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// FetchError is a source download failure. Retryable is false for
// responses that will not change on retry (404, 403, oversized body).
type FetchError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt. Codec and
// validation failures never are.
func IsRetryable(err error) bool {
	var te *TranscodeError
	var ve *ValidationError
	var fe *FetchError
	var ue *UploadError
	switch {
	case err == nil:
		return false
	case errors.As(err, &te), errors.As(err, &ve):
		return false
	case errors.As(err, &fe):
		return fe.Retryable
	case errors.As(err, &ue):
		return true
	}
	return false
}

type VariantError struct {
	Variant string `json:"variant"`
	Step    string `json:"step"`
	Err     error  `json:"-"`
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %s failed at %s: %v", e.Variant, e.Step, e.Err)
}

func (e *VariantError) Unwrap() error { return e.Err }

// PartialFailure is returned alongside the successful results whenever at
// least one unit failed.
type PartialFailure struct {
	Succeeded []string
	Failures  []*VariantError
}

func (p *PartialFailure) Error() string {
	msgs := make([]string, 0, len(p.Failures))
	for _, f := range p.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d of %d variants failed: %s", len(p.Failures), len(p.Failures)+len(p.Succeeded), strings.Join(msgs, "; "))
}

func (p *PartialFailure) AllFailed() bool {
	return len(p.Succeeded) == 0
}

func (p *PartialFailure) Sort() {
	sort.Strings(p.Succeeded)
	sort.Slice(p.Failures, func(i, j int) bool { return p.Failures[i].Variant < p.Failures[j].Variant })
}
