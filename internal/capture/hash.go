package capture

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"
)

// dHash geometry: pixels are compared against their horizontal neighbor,
// so a 64-bit hash needs a 9-wide, 8-tall grayscale grid.
const (
	hashWidth  = 9
	hashHeight = 8
)

// DHash computes a 64-bit difference hash of the image. Visually similar
// frames produce hashes within a few bits of each other.
func DHash(img image.Image) uint64 {
	gray := downscaleGray(img, hashWidth, hashHeight)

	var hash uint64
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth-1; x++ {
			hash <<= 1
			if gray[y*hashWidth+x] > gray[y*hashWidth+x+1] {
				hash |= 1
			}
		}
	}
	return hash
}

// HammingDistance counts differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// FormatHash renders a hash in the fixed-width hex form stored on traces.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParseHash reads a hash back from its hex form.
func ParseHash(s string) (uint64, error) {
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", s, err)
	}
	return h, nil
}

// downscaleGray samples the image down to w×h luminance values using
// nearest-neighbor. Integer luma weights keep the result deterministic
// across platforms.
func downscaleGray(img image.Image, w, h int) []uint8 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	out := make([]uint8, w*h)
	if srcW == 0 || srcH == 0 {
		return out
	}

	for y := 0; y < h; y++ {
		sy := bounds.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			r, g, b, _ := img.At(sx, sy).RGBA()
			// 16-bit channels; weights match the 299/587/114 luma split.
			gray := (uint64(r>>8)*299 + uint64(g>>8)*587 + uint64(b>>8)*114) / 1000
			out[y*w+x] = uint8(gray)
		}
	}
	return out
}
