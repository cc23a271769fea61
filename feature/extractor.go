// Package feature turns decoded photos into bounded ORB keypoint and
// descriptor sets. Descriptors are binary (32 bytes) and compared with
// Hamming distance everywhere in a run; the package also computes the
// perceptual hash used by the optional candidate prefilter.
package feature

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"gocv.io/x/gocv"
)

// DescriptorSize is the ORB descriptor length in bytes.
const DescriptorSize = 32

// ErrUnreadable marks corrupt or undecodable photo input. The photo is
// excluded from matching for the run, not retried.
var ErrUnreadable = errors.New("unreadable image")

// Keypoint is one detected local feature in processing-space
// coordinates. Multiply by Set.Scale to get original-image coordinates.
type Keypoint struct {
	X, Y     float64
	Size     float64
	Angle    float64
	Response float64
}

// Set is the feature set of a single photo. Descriptors are plain Go
// byte slices copied out of OpenCV memory, so a Set is an immutable
// value safe to cache and share across matching goroutines with no
// Mat lifetime to manage.
type Set struct {
	Path        string
	Keypoints   []Keypoint
	Descriptors [][]byte
	Scale       float64 // original size / processing size
}

// Extractor computes feature sets with a bounded cost: images are
// downscaled so the longer side is at most maxSide, and at most
// nFeatures keypoints are kept.
type Extractor struct {
	maxSide   int
	nFeatures int
}

// NewExtractor returns an Extractor for the given fast-path bounds.
func NewExtractor(maxSide, nFeatures int) *Extractor {
	return &Extractor{maxSide: maxSide, nFeatures: nFeatures}
}

// ExtractFile reads and extracts the photo at path.
func (e *Extractor) ExtractFile(path string) (*Set, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %v", ErrUnreadable, path, err)
	}
	return e.Extract(buf, path)
}

// Extract decodes the photo bytes as grayscale, downscales if needed
// and runs ORB detection. The returned set has at most nFeatures
// keypoints; a decodable but featureless image yields an empty set.
func (e *Extractor) Extract(buf []byte, path string) (*Set, error) {
	img, err := gocv.IMDecode(buf, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode %s: %v", ErrUnreadable, path, err)
	}
	defer func() { img.Close() }()
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty decode for %s", ErrUnreadable, path)
	}

	scale := 1.0
	longer := img.Cols()
	if img.Rows() > longer {
		longer = img.Rows()
	}
	if longer > e.maxSide {
		f := float64(e.maxSide) / float64(longer)
		w := int(math.Round(float64(img.Cols()) * f))
		h := int(math.Round(float64(img.Rows()) * f))
		resized := gocv.NewMat()
		gocv.Resize(img, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		img.Close()
		img = resized
		scale = 1 / f
	}

	orb := gocv.NewORBWithParams(e.nFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := orb.DetectAndCompute(img, mask)
	defer desc.Close()

	set := &Set{Path: path, Scale: scale}
	if desc.Empty() {
		return set, nil
	}

	rows := desc.Rows()
	if rows > e.nFeatures {
		rows = e.nFeatures
	}
	cols := desc.Cols()
	data := desc.ToBytes()

	set.Descriptors = make([][]byte, rows)
	for i := 0; i < rows; i++ {
		d := make([]byte, cols)
		copy(d, data[i*cols:(i+1)*cols])
		set.Descriptors[i] = d
	}

	set.Keypoints = make([]Keypoint, 0, rows)
	for i, kp := range kps {
		if i >= rows {
			break
		}
		set.Keypoints = append(set.Keypoints, Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
		})
	}

	return set, nil
}
