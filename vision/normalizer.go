// Package vision wraps the OpenCV pieces of the pipeline: decoding and
// contrast normalization of uploaded images, cascade face detection and the
// debug box overlay.
package vision

import (
	"fmt"
	"image"

	"github.com/camden-git/faceidbackend/media"
	"github.com/camden-git/faceidbackend/utils"
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

const (
	claheClipLimit = 2.0
	claheTileGrid  = 8
)

// Normalizer turns encoded image bytes into a contrast-equalized grayscale
// image. It is stateless and safe for concurrent use.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize decodes data (any format OpenCV reads), converts it to gray and
// applies CLAHE. EXIF orientation is applied last, so the result is upright
// with the source dimensions, swapped for quarter turns.
func (n *Normalizer) Normalize(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", utils.ErrDecode)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor|gocv.IMReadIgnoreOrientation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("%w: bytes are not a supported image", utils.ErrDecode)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheTileGrid, claheTileGrid))
	defer clahe.Close()
	clahe.Apply(gray, &equalized)

	out, err := equalized.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert normalized image: %w", err)
	}
	if o := utils.ImageOrientation(data); o != utils.OrientationNormal {
		out = orient(out, o)
	}
	if g, ok := out.(*image.Gray); ok {
		return g, nil
	}
	return media.ToGray(out), nil
}

// orient turns an image stored with EXIF orientation o upright.
func orient(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
