package acquisition

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrNotImage is returned when a file's declared type is not an image type.
var ErrNotImage = errors.New("file is not an image")

// SizeGuideline is the upload size advertised to users. It is not enforced.
const SizeGuideline = 10 << 20

// Image is a single uploadable image. It is owned by whoever receives it and
// is not retained after the upload completes.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// File is a user-selected or dropped file as reported by the client.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// IsImageType reports whether a declared content type names an image.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// FromUpload checks a declared file type and wraps the payload as an Image.
func FromUpload(filename, contentType string, data []byte) (Image, error) {
	if !IsImageType(contentType) {
		return Image{}, ErrNotImage
	}
	return Image{Data: data, ContentType: contentType, Filename: filename}, nil
}

// PreviewDataURL renders img as a data URL for on-screen display.
func PreviewDataURL(img Image) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(img.ContentType) + base64.StdEncoding.EncodedLen(len(img.Data)))
	b.WriteString("data:")
	b.WriteString(img.ContentType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(img.Data))
	return b.String()
}
