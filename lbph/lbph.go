// Package lbph implements a Local Binary Pattern Histogram face classifier.
//
// Every training image is reduced to a spatial histogram of extended
// (circular) LBP codes; prediction returns the label of the nearest training
// histogram under the chi-square distance. Parameters and the distance scale
// follow OpenCV's LBPHFaceRecognizer defaults so that thresholds tuned
// against it keep their meaning.
package lbph

import (
	"errors"
	"fmt"
	"image"
	"math"
)

const (
	DefaultRadius    = 1
	DefaultNeighbors = 8
	DefaultGridX     = 8
	DefaultGridY     = 8

	maxNeighbors = 16
	epsilon      = 1.1920929e-07 // float32 machine epsilon
)

var (
	ErrEmptyTrainingSet = errors.New("lbph: empty training set")
	ErrImageTooSmall    = errors.New("lbph: image too small for the histogram grid")
	ErrEmptyModel       = errors.New("lbph: model has no samples")
)

// Params configures the LBP operator and the spatial grid.
type Params struct {
	Radius    int
	Neighbors int
	GridX     int
	GridY     int
}

func DefaultParams() Params {
	return Params{
		Radius:    DefaultRadius,
		Neighbors: DefaultNeighbors,
		GridX:     DefaultGridX,
		GridY:     DefaultGridY,
	}
}

// Validate reports whether the parameters describe a usable operator.
func (p Params) Validate() error {
	if p.Radius < 1 {
		return fmt.Errorf("lbph: radius must be positive, got %d", p.Radius)
	}
	if p.Neighbors < 1 || p.Neighbors > maxNeighbors {
		return fmt.Errorf("lbph: neighbors must be within 1..%d, got %d", maxNeighbors, p.Neighbors)
	}
	if p.GridX < 1 || p.GridY < 1 {
		return fmt.Errorf("lbph: grid must be at least 1x1, got %dx%d", p.GridX, p.GridY)
	}
	return nil
}

// Bins is the number of distinct LBP codes.
func (p Params) Bins() int {
	return 1 << p.Neighbors
}

// HistogramLen is the length of one spatial histogram.
func (p Params) HistogramLen() int {
	return p.GridX * p.GridY * p.Bins()
}

// MinImageSize is the smallest image that still yields one code per grid cell.
func (p Params) MinImageSize() image.Point {
	return image.Pt(2*p.Radius+p.GridX, 2*p.Radius+p.GridY)
}

// Model is a trained classifier: one histogram per training sample.
type Model struct {
	Params     Params
	Labels     []int64
	Histograms [][]float32
}

// Train computes the histograms of all images. images and labels are parallel.
func Train(p Params, images []*image.Gray, labels []int64) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("lbph: %d images but %d labels", len(images), len(labels))
	}

	m := &Model{
		Params:     p,
		Labels:     make([]int64, 0, len(images)),
		Histograms: make([][]float32, 0, len(images)),
	}
	for i, img := range images {
		hist, err := p.histogram(img)
		if err != nil {
			return nil, fmt.Errorf("sample %d (label %d): %w", i, labels[i], err)
		}
		m.Labels = append(m.Labels, labels[i])
		m.Histograms = append(m.Histograms, hist)
	}
	return m, nil
}

// Predict returns the label of the closest training sample and its
// chi-square distance. Lower distances mean more similar faces.
func (m *Model) Predict(img *image.Gray) (int64, float64, error) {
	if m == nil || len(m.Histograms) == 0 {
		return 0, 0, ErrEmptyModel
	}
	query, err := m.Params.histogram(img)
	if err != nil {
		return 0, 0, err
	}

	bestLabel := m.Labels[0]
	bestDist := math.MaxFloat64
	for i, hist := range m.Histograms {
		d := ChiSquare(hist, query)
		if d < bestDist {
			bestDist = d
			bestLabel = m.Labels[i]
		}
	}
	return bestLabel, bestDist, nil
}

// Len is the number of training samples in the model.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Labels)
}

// DistinctLabels returns the labels present in the model in first-seen order.
func (m *Model) DistinctLabels() []int64 {
	if m == nil {
		return nil
	}
	seen := make(map[int64]bool, len(m.Labels))
	labels := make([]int64, 0)
	for _, l := range m.Labels {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	return labels
}

func (m *Model) validate() error {
	if err := m.Params.Validate(); err != nil {
		return err
	}
	if len(m.Labels) == 0 {
		return ErrEmptyModel
	}
	if len(m.Labels) != len(m.Histograms) {
		return fmt.Errorf("lbph: %d labels but %d histograms", len(m.Labels), len(m.Histograms))
	}
	want := m.Params.HistogramLen()
	for i, h := range m.Histograms {
		if len(h) != want {
			return fmt.Errorf("lbph: histogram %d has %d bins, want %d", i, len(h), want)
		}
	}
	return nil
}

// ChiSquare is the alternative chi-square distance used by OpenCV
// (HISTCMP_CHISQR_ALT): sum of 2*(a-b)^2/(a+b) over all bins.
func ChiSquare(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(a[i]) + float64(b[i])
		if math.Abs(s) > epsilon {
			d := float64(a[i]) - float64(b[i])
			sum += 2 * d * d / s
		}
	}
	return sum
}

// histogram computes the normalized spatial LBP histogram of img.
func (p Params) histogram(img *image.Gray) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("lbph: nil image")
	}
	minSize := p.MinImageSize()
	b := img.Bounds()
	if b.Dx() < minSize.X || b.Dy() < minSize.Y {
		return nil, fmt.Errorf("%w: %dx%d, need at least %dx%d", ErrImageTooSmall, b.Dx(), b.Dy(), minSize.X, minSize.Y)
	}

	codes, w, h := p.codes(img)
	bins := p.Bins()
	cellW := w / p.GridX
	cellH := h / p.GridY
	hist := make([]float32, p.HistogramLen())
	cellSize := float32(cellW * cellH)

	for gy := 0; gy < p.GridY; gy++ {
		for gx := 0; gx < p.GridX; gx++ {
			cell := hist[(gy*p.GridX+gx)*bins : (gy*p.GridX+gx+1)*bins]
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				row := codes[y*w : (y+1)*w]
				for x := gx * cellW; x < (gx+1)*cellW; x++ {
					cell[row[x]]++
				}
			}
			for k := range cell {
				cell[k] /= cellSize
			}
		}
	}
	return hist, nil
}

// codes runs the extended LBP operator with bilinear sampling on the circle
// of the configured radius. The result is (w-2r)x(h-2r).
func (p Params) codes(img *image.Gray) ([]int, int, int) {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	r := p.Radius
	w, h := cols-2*r, rows-2*r
	codes := make([]int, w*h)

	px := func(x, y int) float64 {
		return float64(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	for n := 0; n < p.Neighbors; n++ {
		angle := 2 * math.Pi * float64(n) / float64(p.Neighbors)
		x := float64(r) * math.Cos(angle)
		y := -float64(r) * math.Sin(angle)

		fx, fy := int(math.Floor(x)), int(math.Floor(y))
		cx, cy := int(math.Ceil(x)), int(math.Ceil(y))
		tx, ty := x-float64(fx), y-float64(fy)

		w1 := (1 - tx) * (1 - ty)
		w2 := tx * (1 - ty)
		w3 := (1 - tx) * ty
		w4 := tx * ty
		bit := 1 << n

		for i := r; i < rows-r; i++ {
			for j := r; j < cols-r; j++ {
				t := w1*px(j+fx, i+fy) + w2*px(j+cx, i+fy) + w3*px(j+fx, i+cy) + w4*px(j+cx, i+cy)
				c := px(j, i)
				if t > c || math.Abs(t-c) < epsilon {
					codes[(i-r)*w+(j-r)] += bit
				}
			}
		}
	}
	return codes, w, h
}
