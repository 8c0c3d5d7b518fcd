// Package media prepares images for upload. Large photos are scaled down to
// the size the feed renders so uploads stay small.
package media

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // register decoder
	"net/http"

	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"github.com/nfnt/resize"
)

// DefaultMaxDimension bounds the longest side of an uploaded image.
const DefaultMaxDimension = 2000

// Normalizer rewrites uploads that exceed MaxDimension as JPEG.
type Normalizer struct {
	MaxDimension uint
	Quality      int
}

// NewNormalizer creates a normalizer with the given bound. Zero uses the
// default.
func NewNormalizer(maxDimension uint) *Normalizer {
	if maxDimension == 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Normalizer{MaxDimension: maxDimension, Quality: 90}
}

// Normalize checks that f is an image and scales it down when needed. Images
// already within bounds are returned untouched.
func (n *Normalizer) Normalize(f *domain.File) (*domain.File, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, appErrors.Validation("FILE_EMPTY", "Photo must be uploaded.").
			WithField("file", "Photo must be uploaded.").Build()
	}

	contentType := f.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(f.Data)
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, appErrors.Validation("FILE_NOT_IMAGE", "Unsupported image format.").
			WithField("file", "Unsupported image format.").
			WithCause(err).Build()
	}

	b := img.Bounds()
	if uint(b.Dx()) <= n.MaxDimension && uint(b.Dy()) <= n.MaxDimension {
		return &domain.File{Name: f.Name, ContentType: contentType, Data: f.Data}, nil
	}

	scaled := resize.Thumbnail(n.MaxDimension, n.MaxDimension, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: n.Quality}); err != nil {
		return nil, appErrors.Internal("FILE_ENCODE", "Unable to process image.").WithCause(err).Build()
	}
	return &domain.File{Name: f.Name, ContentType: "image/jpeg", Data: buf.Bytes()}, nil
}
