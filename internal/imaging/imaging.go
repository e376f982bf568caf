// Package imaging turns uploaded bytes into the RGB pixel grid the face engine expects.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facematch/internal/types"
	_ "golang.org/x/image/bmp"
)

// MaxUploadBytes is the default request body cap.
const MaxUploadBytes = 16 * 1024 * 1024

// MaxPixels is the largest image, in pixels, that Decode accepts. Anything bigger is
// treated as a decompression bomb.
const MaxPixels = 178956970

// ErrUnsupportedImage is returned when the bytes cannot be decoded as a raster image.
var ErrUnsupportedImage = errors.New("invalid image format")

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
}

// AllowedFile reports whether the filename carries one of the accepted image extensions.
func AllowedFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext != "" && allowedExtensions[strings.ToLower(ext)]
}

// Decode reads a PNG, JPEG, GIF or BMP stream and returns it as packed RGB. The header is
// checked against MaxPixels before any pixel is decoded.
func Decode(r io.Reader) (types.RGBImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.RGBImage{}, fmt.Errorf("failed to read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return types.RGBImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxPixels {
		return types.RGBImage{}, fmt.Errorf("%w: %dx%d %s image exceeds %d pixels",
			ErrUnsupportedImage, cfg.Width, cfg.Height, format, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return types.RGBImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return types.RGBImage{}, fmt.Errorf("%w: empty %s image", ErrUnsupportedImage, format)
	}
	return ToRGB(img), nil
}

// ToRGB flattens any image.Image into packed RGB, dropping alpha without compositing.
func ToRGB(img image.Image) types.RGBImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := types.RGBImage{Width: w, Height: h, Pix: make([]byte, w*h*3)}

	// Fast path for opaque RGBA.
	if src, ok := img.(*image.RGBA); ok && src.Opaque() {
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[off : off+w*4]
			dst := out.Pix[y*w*3 : (y+1)*w*3]
			for x := 0; x < w; x++ {
				dst[x*3] = row[x*4]
				dst[x*3+1] = row[x*4+1]
				dst[x*3+2] = row[x*4+2]
			}
		}
		return out
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			i += 3
		}
	}
	return out
}

// Image wraps packed RGB back into an image.Image, for engines that want one.
func Image(src types.RGBImage) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for i, j := 0, 0; i < len(src.Pix); i, j = i+3, j+4 {
		img.Pix[j] = src.Pix[i]
		img.Pix[j+1] = src.Pix[i+1]
		img.Pix[j+2] = src.Pix[i+2]
		img.Pix[j+3] = 0xFF
	}
	return img
}
