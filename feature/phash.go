package feature

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"os"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PHash computes the 64-bit perceptual hash of the photo bytes.
func PHash(buf []byte, path string) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return 0, fmt.Errorf("%w: cannot decode %s for hashing: %v", ErrUnreadable, path, err)
	}
	h, err := goimagehash.PerceptualHash(img)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot hash %s: %v", ErrUnreadable, path, err)
	}
	return h.GetHash(), nil
}

// PHashFile computes the perceptual hash of the photo at path.
func PHashFile(path string) (uint64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot read %s: %v", ErrUnreadable, path, err)
	}
	return PHash(buf, path)
}

// HashDistance is the Hamming distance between two perceptual hashes.
func HashDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
