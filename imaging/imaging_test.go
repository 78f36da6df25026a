package imaging

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

// makeTestImage builds a solid-color NRGBA image
func makeTestImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// makeHalfMask builds a mask with the left half white and the right half black
func makeHalfMask(w, h int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return mask
}

// TestApplyAlphaMask verifies the mask becomes the alpha channel
func TestApplyAlphaMask(t *testing.T) {
	img := makeTestImage(8, 4, color.NRGBA{200, 100, 50, 255})
	mask := makeHalfMask(8, 4)

	out := ApplyAlphaMask(img, mask)

	left := out.NRGBAAt(1, 1)
	if left.A != 255 {
		t.Errorf("masked-in pixel alpha = %d; want 255", left.A)
	}
	if left.R != 200 || left.G != 100 || left.B != 50 {
		t.Errorf("masked-in pixel color = %v; want RGB(200,100,50)", left)
	}

	right := out.NRGBAAt(6, 1)
	if right.A != 0 {
		t.Errorf("masked-out pixel alpha = %d; want 0", right.A)
	}
	// Color channels are preserved; only alpha changes
	if right.R != 200 {
		t.Errorf("masked-out pixel R = %d; want 200", right.R)
	}
}

// TestMaskRGB verifies pixels outside the mask are blacked out
func TestMaskRGB(t *testing.T) {
	img := makeTestImage(8, 4, color.NRGBA{200, 100, 50, 255})
	mask := makeHalfMask(8, 4)

	out := MaskRGB(img, mask)

	left := out.NRGBAAt(1, 1)
	if left.R != 200 || left.G != 100 || left.B != 50 {
		t.Errorf("masked-in pixel = %v; want RGB(200,100,50)", left)
	}

	right := out.NRGBAAt(6, 1)
	if right.R != 0 || right.G != 0 || right.B != 0 {
		t.Errorf("masked-out pixel = %v; want black", right)
	}
	if right.A != 255 {
		t.Errorf("masked-out pixel alpha = %d; want 255", right.A)
	}
}

// TestMaskDepth verifies depth outside the mask becomes zero
func TestMaskDepth(t *testing.T) {
	depth := image.NewGray16(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			depth.SetGray16(x, y, color.Gray16{Y: 1500}) // 1.5m in mm
		}
	}
	mask := makeHalfMask(8, 4)

	out := MaskDepth(depth, mask)

	if got := out.Gray16At(1, 1).Y; got != 1500 {
		t.Errorf("masked-in depth = %d; want 1500", got)
	}
	if got := out.Gray16At(6, 1).Y; got != 0 {
		t.Errorf("masked-out depth = %d; want 0", got)
	}
}

// TestFitMask verifies resize behavior
func TestFitMask(t *testing.T) {
	mask := makeHalfMask(4, 4)

	// Same size returns the identical mask
	same := FitMask(mask, 4, 4)
	if same != mask {
		t.Error("FitMask resized a mask that already matched")
	}

	// Upscale keeps values binary (nearest neighbor)
	big := FitMask(mask, 8, 8)
	if b := big.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("FitMask bounds = %v; want 8x8", b)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := big.GrayAt(x, y).Y
			if v != 0 && v != 255 {
				t.Fatalf("FitMask produced non-binary value %d at (%d,%d)", v, x, y)
			}
		}
	}
}

// TestApplyAlphaMaskResizesMismatchedMask verifies size mismatch is tolerated
func TestApplyAlphaMaskResizesMismatchedMask(t *testing.T) {
	img := makeTestImage(8, 8, color.NRGBA{10, 20, 30, 255})
	mask := makeHalfMask(4, 4)

	out := ApplyAlphaMask(img, mask)
	if b := out.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("output bounds = %v; want 8x8", b)
	}
	if a := out.NRGBAAt(0, 0).A; a != 255 {
		t.Errorf("left pixel alpha = %d; want 255", a)
	}
	if a := out.NRGBAAt(7, 7).A; a != 0 {
		t.Errorf("right pixel alpha = %d; want 0", a)
	}
}

// TestSaveLoadRoundTrip verifies PNG save/load for color, mask, and depth
func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	rgbPath := filepath.Join(dir, "rgb.png")
	img := makeTestImage(6, 6, color.NRGBA{1, 2, 3, 255})
	if err := SavePNG(rgbPath, img); err != nil {
		t.Fatalf("SavePNG error = %v", err)
	}
	loaded, err := LoadImage(rgbPath)
	if err != nil {
		t.Fatalf("LoadImage error = %v", err)
	}
	if b := loaded.Bounds(); b.Dx() != 6 || b.Dy() != 6 {
		t.Errorf("loaded bounds = %v; want 6x6", b)
	}

	depthPath := filepath.Join(dir, "depth.png")
	depth := image.NewGray16(image.Rect(0, 0, 6, 6))
	depth.SetGray16(2, 3, color.Gray16{Y: 40000})
	if err := SavePNG(depthPath, depth); err != nil {
		t.Fatalf("SavePNG depth error = %v", err)
	}
	loadedDepth, err := LoadDepth(depthPath)
	if err != nil {
		t.Fatalf("LoadDepth error = %v", err)
	}
	if got := loadedDepth.Gray16At(2, 3).Y; got != 40000 {
		t.Errorf("depth value after round trip = %d; want 40000", got)
	}

	w, h, err := Dimensions(depthPath)
	if err != nil {
		t.Fatalf("Dimensions error = %v", err)
	}
	if w != 6 || h != 6 {
		t.Errorf("Dimensions = %dx%d; want 6x6", w, h)
	}
}
