package vision

import (
	"fmt"
	"image"
	"image/color"

	"github.com/camden-git/faceidbackend/utils"
	"gocv.io/x/gocv"
)

// Box is a region to draw with an optional caption.
type Box struct {
	Rect  image.Rectangle
	Label string
}

var boxColor = color.RGBA{0, 0, 255, 0}

// Annotate decodes data, draws every box over the color image and returns
// it encoded as JPEG.
func Annotate(data []byte, boxes []Box) ([]byte, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("%w: bytes are not a supported image", utils.ErrDecode)
	}

	thickness := 2
	for _, box := range boxes {
		gocv.Rectangle(&img, box.Rect, boxColor, thickness)
		if box.Label != "" {
			gocv.PutText(&img, box.Label, image.Pt(box.Rect.Min.X, max(box.Rect.Min.Y-5, 10)), gocv.FontHersheySimplex, 0.5, boxColor, 1)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
