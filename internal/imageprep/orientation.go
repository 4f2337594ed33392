package imageprep

import (
	"bytes"
	"image"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// EXIF orientation values (TIFF tag 0x0112).
const (
	orientNormal     = 1
	orientFlipH      = 2
	orientRotate180  = 3
	orientFlipV      = 4
	orientTranspose  = 5
	orientRotate90   = 6
	orientTransverse = 7
	orientRotate270  = 8
)

// readOrientation returns the EXIF orientation of raw image bytes, or 1 when
// the image has no EXIF block (PNG, GIF, stripped JPEG).
func readOrientation(raw []byte) int {
	exifData, err := imagemeta.Decode(bytes.NewReader(raw))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF orientation, assuming upright")
		return orientNormal
	}
	o := int(exifData.Orientation)
	if o < orientNormal || o > orientRotate270 {
		return orientNormal
	}
	return o
}

// swapsAxes reports whether orientation exchanges width and height.
func swapsAxes(orientation int) bool {
	return orientation >= orientTranspose
}

// applyOrientation returns img transformed so it displays upright.
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation == orientNormal {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if swapsAxes(orientation) {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case orientFlipH:
				dx, dy = w-1-x, y
			case orientRotate180:
				dx, dy = w-1-x, h-1-y
			case orientFlipV:
				dx, dy = x, h-1-y
			case orientTranspose:
				dx, dy = y, x
			case orientRotate90:
				dx, dy = h-1-y, x
			case orientTransverse:
				dx, dy = h-1-y, w-1-x
			case orientRotate270:
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
