// Package imaging normalizes item photos before they are stored.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/vbonduro/cubby/internal/domain"
)

const (
	// MaxDimension bounds the width and height of stored photos.
	MaxDimension = 1600
	JPEGQuality  = 82
	// MaxUploadBytes bounds raw uploads.
	MaxUploadBytes = 20 << 20
)

var decoders = map[string]func([]byte) (image.Image, error){
	"image/jpeg": func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) },
	"image/png":  func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) },
	"image/gif":  func(b []byte) (image.Image, error) { return gif.Decode(bytes.NewReader(b)) },
	"image/webp": func(b []byte) (image.Image, error) { return webp.Decode(bytes.NewReader(b)) },
}

type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// DetectMIME sniffs the image type. WebP is matched on its RIFF header
// since older sniffing tables do not know it.
func DetectMIME(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	return http.DetectContentType(data)
}

// Normalize sniffs the format from the bytes, downscales to MaxDimension
// and re-encodes as JPEG.
func Normalize(data []byte) (*Photo, error) {
	if len(data) == 0 {
		return nil, domain.NewValidationError("photo", "empty upload")
	}
	if len(data) > MaxUploadBytes {
		return nil, domain.NewValidationError("photo", "upload too large")
	}

	detected := DetectMIME(data)
	decode, ok := decoders[detected]
	if !ok {
		return nil, domain.NewValidationError("photo", fmt.Sprintf("unsupported image format %s", detected))
	}
	img, err := decode(data)
	if err != nil {
		return nil, domain.NewValidationError("photo", fmt.Sprintf("cannot decode image: %v", err))
	}

	img = Downscale(img, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode photo: %w", err)
	}
	b := img.Bounds()
	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// Downscale returns img resized so neither side exceeds maxDim, keeping the
// aspect ratio. Images already within bounds are returned unchanged.
func Downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := maxDim, maxDim
	if w > h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
