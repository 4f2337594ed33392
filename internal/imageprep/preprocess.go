// Package imageprep normalizes user-supplied image files into a bounded JPEG
// payload before they are sent to the generation service.
package imageprep

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"io"
	"math"
	"strings"

	"github.com/fpang/pro-headshot/internal/media"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxUploadMiB  = 10
	DefaultMaxWidth      = 1024
	DefaultJPEGQuality   = 0.9
	DefaultMaxMegapixels = 40
)

const bytesPerMiB = 1024 * 1024

// Options bounds the preprocessed output.
type Options struct {
	// MaxUploadMiB is the largest accepted upload.
	MaxUploadMiB int
	// MaxWidth is the widest output; narrower images keep their width.
	MaxWidth int
	// JPEGQuality is the re-encode quality in (0, 1].
	JPEGQuality float64
	// MaxMegapixels caps decoded width*height, checked from the header
	// before any pixel data is allocated.
	MaxMegapixels int
}

func (o Options) withDefaults() Options {
	if o.MaxUploadMiB <= 0 {
		o.MaxUploadMiB = DefaultMaxUploadMiB
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 1 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if o.MaxMegapixels <= 0 {
		o.MaxMegapixels = DefaultMaxMegapixels
	}
	return o
}

// Upload describes a user-supplied file.
type Upload struct {
	Filename    string
	ContentType string
	// Size is the declared size in bytes; -1 if unknown.
	Size int64
	Body io.Reader
}

// Preprocessor validates, downsizes and re-encodes uploads.
type Preprocessor struct {
	opts Options
}

// New creates a Preprocessor. Zero option fields fall back to the defaults.
func New(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (p *Preprocessor) Options() Options {
	return p.opts
}

// MaxBytes returns the upload size limit in bytes.
func (p *Preprocessor) MaxBytes() int64 {
	return int64(p.opts.MaxUploadMiB) * bytesPerMiB
}

// TooLargeError is the rejection for an upload over MaxBytes, for callers
// that enforce the limit before Preprocess sees the body.
func (p *Preprocessor) TooLargeError() *ValidationError {
	return tooLarge(p.opts.MaxUploadMiB)
}

// Preprocess validates the upload and returns a JPEG no wider than MaxWidth.
// Validation failures are returned as *ValidationError.
func (p *Preprocessor) Preprocess(ctx context.Context, up Upload) (media.EncodedImage, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(up.ContentType)), "image/") {
		return media.EncodedImage{}, invalidType(up.ContentType)
	}

	maxBytes := p.MaxBytes()
	if up.Size > maxBytes {
		return media.EncodedImage{}, tooLarge(p.opts.MaxUploadMiB)
	}

	raw, err := io.ReadAll(io.LimitReader(up.Body, maxBytes+1))
	if err != nil {
		return media.EncodedImage{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return media.EncodedImage{}, tooLarge(p.opts.MaxUploadMiB)
	}

	if err := ctx.Err(); err != nil {
		return media.EncodedImage{}, err
	}

	header, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return media.EncodedImage{}, undecodable(err)
	}
	if int64(header.Width)*int64(header.Height) > int64(p.opts.MaxMegapixels)*1_000_000 {
		return media.EncodedImage{}, tooManyPixels(header.Width, header.Height, p.opts.MaxMegapixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return media.EncodedImage{}, undecodable(err)
	}

	orientation := readOrientation(raw)
	dst := fitUpright(img, orientation, p.opts.MaxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality(p.opts.JPEGQuality)}); err != nil {
		return media.EncodedImage{}, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Str("file", up.Filename).
		Str("format", format).
		Int("orientation", orientation).
		Int("orig_width", header.Width).
		Int("orig_height", header.Height).
		Int("new_width", dst.Bounds().Dx()).
		Int("new_height", dst.Bounds().Dy()).
		Int("input_bytes", len(raw)).
		Int("output_bytes", buf.Len()).
		Msg("Upload preprocessed")

	return media.New(media.MIMEJPEG, buf.Bytes()), nil
}

// fitUpright scales img so its upright form is at most maxWidth wide, then
// applies the EXIF orientation to the small result.
func fitUpright(img image.Image, orientation, maxWidth int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if swapsAxes(orientation) {
		w, h = h, w
	}
	newWidth, newHeight := TargetDimensions(w, h, maxWidth)
	if swapsAxes(orientation) {
		newWidth, newHeight = newHeight, newWidth
	}

	scaled := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
	return applyOrientation(scaled, orientation)
}

// TargetDimensions caps width at maxWidth and scales height to keep the
// aspect ratio. Images already narrow enough keep their size.
func TargetDimensions(width, height, maxWidth int) (int, int) {
	if width <= maxWidth {
		return width, height
	}
	newHeight := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	if newHeight < 1 {
		newHeight = 1
	}
	return maxWidth, newHeight
}

func jpegQuality(q float64) int {
	quality := int(math.Round(q * 100))
	if quality < 1 {
		return 1
	}
	if quality > 100 {
		return 100
	}
	return quality
}
