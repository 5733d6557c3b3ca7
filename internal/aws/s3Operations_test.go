package aws

import (
	"errors"
	"net/http"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahirjain10/image-variants/internal/types"
)

func responseError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("boom"),
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.UploadReason
	}{
		{"access denied code", &smithy.GenericAPIError{Code: "AccessDenied"}, types.UploadPermission},
		{"slow down code", &smithy.GenericAPIError{Code: "SlowDown"}, types.UploadQuota},
		{"forbidden status", responseError(http.StatusForbidden), types.UploadPermission},
		{"throttled status", responseError(http.StatusTooManyRequests), types.UploadQuota},
		{"server error", responseError(http.StatusInternalServerError), types.UploadNetwork},
		{"plain error", errors.New("connection reset by peer"), types.UploadNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("put", "a/b/c.webp", tt.err)
			var ue *types.UploadError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.want, ue.Reason)
			assert.Equal(t, "a/b/c.webp", ue.Key)
			assert.True(t, types.IsRetryable(err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&s3types.NotFound{}))
	assert.True(t, isNotFound(&s3types.NoSuchKey{}))
	assert.True(t, isNotFound(responseError(http.StatusNotFound)))
	assert.False(t, isNotFound(responseError(http.StatusForbidden)))
	assert.False(t, isNotFound(errors.New("timeout")))
}
