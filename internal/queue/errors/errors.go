// Package errors holds the client-facing messages sent in FAILED and
// PARTIAL status updates.
package errors

const (
	ErrMessage   = "invalid job message"
	ErrFetch     = "could not download the source image"
	ErrValidate  = "source image or variant request rejected"
	ErrTransform = "could not transcode the image"
	ErrUpload    = "could not store the image variants"
	ErrPartial   = "some variants could not be produced"
)
