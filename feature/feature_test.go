package feature

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

// testImage renders a deterministic noisy pattern so ORB has corners
// to latch onto.
func testImage(w, h int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.Intn(256))
			if (x/16+y/16)%2 == 0 {
				v /= 4
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestExtractRespectsFeatureCap(t *testing.T) {
	e := NewExtractor(400, 50)
	set, err := e.Extract(testImage(800, 600, 1), "mem.png")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(set.Descriptors) > 50 {
		t.Errorf("descriptors = %d, want <= 50", len(set.Descriptors))
	}
	if len(set.Keypoints) != len(set.Descriptors) {
		t.Errorf("keypoints (%d) and descriptors (%d) not parallel", len(set.Keypoints), len(set.Descriptors))
	}
	for _, d := range set.Descriptors {
		if len(d) != DescriptorSize {
			t.Fatalf("descriptor length = %d, want %d", len(d), DescriptorSize)
		}
	}
}

func TestExtractDownscaleScale(t *testing.T) {
	e := NewExtractor(400, 100)
	set, err := e.Extract(testImage(800, 600, 2), "mem.png")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if set.Scale != 2.0 {
		t.Errorf("scale = %g, want 2.0 for 800px downscaled to 400px", set.Scale)
	}

	small, err := e.Extract(testImage(200, 150, 2), "mem.png")
	if err != nil {
		t.Fatalf("Extract small: %v", err)
	}
	if small.Scale != 1.0 {
		t.Errorf("scale = %g, want 1.0 when no downscale happens", small.Scale)
	}
}

func TestExtractUnreadable(t *testing.T) {
	e := NewExtractor(400, 100)
	_, err := e.Extract([]byte("this is not an image"), "junk.bin")
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("err = %v, want ErrUnreadable", err)
	}
}

func TestPHash(t *testing.T) {
	a := testImage(256, 256, 7)

	ha, err := PHash(a, "a.png")
	if err != nil {
		t.Fatalf("PHash: %v", err)
	}
	haAgain, err := PHash(a, "a.png")
	if err != nil {
		t.Fatalf("PHash repeat: %v", err)
	}
	if HashDistance(ha, haAgain) != 0 {
		t.Error("phash of identical bytes differs")
	}

	if _, err := PHash([]byte("junk"), "junk.bin"); !errors.Is(err, ErrUnreadable) {
		t.Errorf("junk hash err = %v, want ErrUnreadable", err)
	}
}

func TestHashDistance(t *testing.T) {
	if d := HashDistance(0, 0); d != 0 {
		t.Errorf("HashDistance(0,0) = %d", d)
	}
	if d := HashDistance(0xF0, 0x0F); d != 8 {
		t.Errorf("HashDistance(0xF0,0x0F) = %d, want 8", d)
	}
}
