package transformation

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var mimeToFormat = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/avif": "avif",
	"image/heic": "heic",
	"image/heif": "heif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// Sources that the native decoders handle poorly. They are routed through a
// JPEG intermediate before resizing.
var intermediateFormats = map[string]bool{
	"avif": true,
	"heic": true,
	"heif": true,
}

// DetectFormat resolves the MIME type of data. Magic bytes win; the declared
// Content-Type is consulted only when sniffing is inconclusive, and the file
// name extension only after that. Data sniffed as a non-image type returns
// that type with an empty format.
func DetectFormat(data []byte, declaredMIME, name string) (mimeType string, format string) {
	if len(data) > 0 {
		detected := mimetype.Detect(data)
		for m := detected; m != nil; m = m.Parent() {
			if f, ok := mimeToFormat[m.String()]; ok {
				return m.String(), f
			}
		}
		// recognised as something other than an image
		if !detected.Is("application/octet-stream") {
			return detected.String(), ""
		}
	}

	if declaredMIME != "" {
		if mt, _, err := mime.ParseMediaType(declaredMIME); err == nil {
			mt = strings.ToLower(mt)
			if f, ok := mimeToFormat[mt]; ok {
				return mt, f
			}
		}
	}

	if name != "" {
		ext := strings.ToLower(filepath.Ext(stripQuery(name)))
		if mt, ok := extToMIME[ext]; ok {
			return mt, mimeToFormat[mt]
		}
	}
	return "application/octet-stream", ""
}

// NeedsIntermediate reports whether a source format must be re-encoded to
// JPEG before the resize step.
func NeedsIntermediate(format string) bool {
	return intermediateFormats[strings.ToLower(format)]
}

func stripQuery(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		return name[:i]
	}
	return name
}
