package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/media"
	"gocv.io/x/gocv"
)

// CascadeDetector finds frontal faces with a Haar cascade. The underlying
// classifier is not goroutine safe, so calls are serialized.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	profile    Profile
	closed     bool
}

func NewCascadeDetector(cascadePath string, profile Profile) (*CascadeDetector, error) {
	if _, err := os.Stat(cascadePath); err != nil {
		return nil, fmt.Errorf("cascade file '%s' is not readable: %w", cascadePath, err)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade classifier from '%s'", cascadePath)
	}

	logger.Infof("detection(cascade): loaded %s with profile %s (scale %.2f, neighbors %d, min %dx%d)",
		cascadePath, profile.Name, profile.ScaleFactor, profile.MinNeighbors, profile.MinSize.X, profile.MinSize.Y)
	return &CascadeDetector{classifier: classifier, profile: profile}, nil
}

func (d *CascadeDetector) Profile() Profile {
	return d.profile
}

// Detect returns face boxes in detection order, clipped to the image.
func (d *CascadeDetector) Detect(img *image.Gray) ([]image.Rectangle, error) {
	if img == nil {
		return nil, fmt.Errorf("detect: nil image")
	}
	b := img.Bounds()
	if b.Min != (image.Point{}) || img.Stride != b.Dx() {
		img = media.ToGray(img)
		b = img.Bounds()
	}

	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("detect: failed to convert image: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("detect: detector is closed")
	}
	rects := d.classifier.DetectMultiScaleWithParams(mat, d.profile.ScaleFactor, d.profile.MinNeighbors, 0, d.profile.MinSize, image.Point{})
	d.mu.Unlock()

	boxes := make([]image.Rectangle, 0, len(rects))
	for _, r := range rects {
		r = r.Intersect(b)
		if !r.Empty() {
			boxes = append(boxes, r)
		}
	}
	return boxes, nil
}

func (d *CascadeDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.classifier.Close()
		d.closed = true
		logger.Debugf("detection(cascade): closed classifier")
	}
}
