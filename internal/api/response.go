package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahirjain10/image-variants/internal/types"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Success: false, Message: message})
}

// statusFor maps pipeline errors onto HTTP statuses. Client mistakes are
// 4xx; storage and origin failures are 502.
func statusFor(err error) int {
	var ve *types.ValidationError
	var te *types.TranscodeError
	var fe *types.FetchError
	var ue *types.UploadError
	var pf *types.PartialFailure
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &pf):
		if len(pf.Failures) > 0 {
			return statusFor(pf.Failures[0].Err)
		}
		return http.StatusInternalServerError
	case errors.As(err, &te):
		if te.Reason == types.UnsupportedFormat {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusUnprocessableEntity
	case errors.As(err, &fe):
		if fe.StatusCode == http.StatusNotFound {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	case errors.As(err, &ue):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
