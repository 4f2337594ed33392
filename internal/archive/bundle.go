package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fpang/pro-headshot/internal/media"
)

// ZipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const ZipMethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(ZipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zip.RegisterDecompressor(ZipMethodZstd, zstd.ZipDecompressor())
}

// BundleName names the ZIP for a session's versions.
func BundleName(now time.Time) string {
	return fmt.Sprintf("pro-headshot-versions-%d.zip", now.UnixMilli())
}

// WriteBundle writes a zstd-compressed ZIP containing the original upload
// (when present) followed by every generated version, oldest first.
// It returns the number of entries written.
func WriteBundle(w io.Writer, original *media.EncodedImage, versions []media.EncodedImage, modTime time.Time) (int, error) {
	zw := zip.NewWriter(w)
	count := 0

	add := func(name string, img media.EncodedImage) error {
		header := &zip.FileHeader{
			Name:   name,
			Method: ZipMethodZstd,
		}
		header.SetModTime(modTime)
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create ZIP entry for %s: %w", name, err)
		}
		if _, err := entry.Write(img.Data); err != nil {
			return fmt.Errorf("write ZIP entry for %s: %w", name, err)
		}
		count++
		return nil
	}

	if original != nil && !original.IsZero() {
		if err := add("original"+Extension(original.MIMEType), *original); err != nil {
			return count, err
		}
	}
	for i, v := range versions {
		if err := add(fmt.Sprintf("version-%02d%s", i+1, Extension(v.MIMEType)), v); err != nil {
			return count, err
		}
	}

	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("finalize ZIP: %w", err)
	}
	return count, nil
}

// Extension returns the file extension for an image MIME type.
func Extension(mimeType string) string {
	switch mimeType {
	case media.MIMEJPEG:
		return ".jpg"
	case media.MIMEPNG:
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
