// Package imaging implements the mask compositing the reconstruction
// pipeline needs: applying an object mask as an alpha channel, blacking out
// RGB pixels outside the mask, and zeroing masked-out regions of 16-bit
// depth maps.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/nfnt/resize"

	// Captures come from a mix of camera tooling; accept the common formats.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadImage decodes an image file. PNG, JPEG, GIF, WEBP, BMP and TIFF are
// supported.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", path, err)
	}
	return img, nil
}

// LoadMask decodes a mask image and converts it to grayscale.
// White (255) marks the object, black (0) marks background.
func LoadMask(path string) (*image.Gray, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// ToGray converts any image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// FitMask resizes the mask to the given dimensions with nearest-neighbor
// interpolation so mask values stay binary. Returns the mask unchanged when
// it already matches.
func FitMask(mask *image.Gray, width, height int) *image.Gray {
	b := mask.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return mask
	}
	resized := resize.Resize(uint(width), uint(height), mask, resize.NearestNeighbor)
	return ToGray(resized)
}

// ApplyAlphaMask composites the mask into the image's alpha channel:
// white (255) in the mask is opaque, black (0) is transparent. The mask is
// resized to the image dimensions when they differ.
func ApplyAlphaMask(img image.Image, mask *image.Gray) *image.NRGBA {
	b := img.Bounds()
	mask = FitMask(mask, b.Dx(), b.Dy())

	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	mb := mask.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y
			out.Pix[out.PixOffset(x, y)+3] = a
		}
	}
	return out
}

// MaskRGB blacks out every pixel outside the mask, matching what the
// registration prep feeds to the scaling step.
func MaskRGB(img image.Image, mask *image.Gray) *image.NRGBA {
	b := img.Bounds()
	mask = FitMask(mask, b.Dx(), b.Dy())

	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	mb := mask.Bounds()
	black := color.NRGBA{0, 0, 0, 255}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y == 0 {
				out.SetNRGBA(x, y, black)
			}
		}
	}
	return out
}

// LoadDepth reads a 16-bit depth PNG (millimeters).
func LoadDepth(path string) (*image.Gray16, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	if d, ok := img.(*image.Gray16); ok {
		return d, nil
	}
	// Some tools write depth as RGB or 8-bit gray; normalize to Gray16.
	b := img.Bounds()
	depth := image.NewGray16(b)
	draw.Draw(depth, b, img, b.Min, draw.Src)
	return depth, nil
}

// MaskDepth zeroes every depth value outside the mask.
func MaskDepth(depth *image.Gray16, mask *image.Gray) *image.Gray16 {
	b := depth.Bounds()
	mask = FitMask(mask, b.Dx(), b.Dy())

	out := image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), depth, b.Min, draw.Src)

	mb := mask.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y == 0 {
				out.SetGray16(x, y, color.Gray16{Y: 0})
			}
		}
	}
	return out
}

// SavePNG writes an image as PNG.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %v", path, err)
	}
	return nil
}

// Dimensions returns the width and height of an image file without keeping
// the pixels around.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read dimensions of %s: %v", path, err)
	}
	return cfg.Width, cfg.Height, nil
}
