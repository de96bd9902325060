package services

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/faceidbackend/lbph"
	"github.com/camden-git/faceidbackend/logger"
)

// Classifier predicts the nearest label for a grayscale face region.
type Classifier interface {
	Predict(img *image.Gray) (int64, float64, error)
}

type heldModel struct {
	classifier Classifier
	loadedAt   time.Time
}

// ModelStatus describes the held model and the artifact on disk.
type ModelStatus struct {
	Loaded     bool    `json:"loaded"`
	Samples    int     `json:"samples"`
	Labels     []int64 `json:"labels"`
	LoadedAt   int64   `json:"loaded_at,omitempty"`
	Path       string  `json:"path"`
	FileExists bool    `json:"file_exists"`
	FileSize   int64   `json:"file_size,omitempty"`
	ModifiedAt int64   `json:"modified_at,omitempty"`
}

// Recognizer holds the trained model shared by recognition requests. The
// model is read from disk on first use and swapped in place after retrains;
// readers never see a partially trained model.
type Recognizer struct {
	modelPath string
	current   atomic.Pointer[heldModel]
	loadMu    sync.Mutex
}

func NewRecognizer(modelPath string) *Recognizer {
	return &Recognizer{modelPath: modelPath}
}

// NewRecognizerWithClassifier returns a recognizer already holding c.
func NewRecognizerWithClassifier(c Classifier) *Recognizer {
	r := &Recognizer{}
	r.Refresh(c)
	return r
}

func (r *Recognizer) ModelPath() string {
	return r.modelPath
}

// Load reads the artifact from disk and replaces the held model. A failed
// load leaves the previous model in place.
func (r *Recognizer) Load() error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	_, err := r.loadLocked()
	return err
}

func (r *Recognizer) loadLocked() (*heldModel, error) {
	if r.modelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelNotFound)
	}
	m, err := lbph.LoadFile(r.modelPath)
	if err != nil {
		return nil, err
	}
	held := &heldModel{classifier: m, loadedAt: time.Now()}
	r.current.Store(held)
	logger.Infof("recognizer: loaded model %s (%d samples, %d identities)", r.modelPath, m.Len(), len(m.DistinctLabels()))
	return held, nil
}

// Ensure loads the model if none is held yet. Load errors are not cached, so
// a model published later is picked up by the next call.
func (r *Recognizer) Ensure() error {
	if r.current.Load() != nil {
		return nil
	}
	_, err := r.ensureHeld()
	return err
}

// ensureHeld returns the held model, loading the artifact when none is held.
func (r *Recognizer) ensureHeld() (*heldModel, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if held := r.current.Load(); held != nil {
		return held, nil
	}
	return r.loadLocked()
}

// Classify predicts the label and distance for a face region.
func (r *Recognizer) Classify(region *image.Gray) (int64, float64, error) {
	held := r.current.Load()
	if held == nil {
		var err error
		if held, err = r.ensureHeld(); err != nil {
			return 0, 0, err
		}
	}
	label, dist, err := held.classifier.Predict(region)
	if err != nil {
		if errors.Is(err, lbph.ErrEmptyModel) {
			return 0, 0, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
		}
		return 0, 0, fmt.Errorf("prediction failed: %w", err)
	}
	return label, dist, nil
}

// Refresh swaps in a freshly trained classifier.
func (r *Recognizer) Refresh(c Classifier) {
	if c == nil {
		r.Reset()
		return
	}
	r.current.Store(&heldModel{classifier: c, loadedAt: time.Now()})
}

// Reset drops the held model; the next Classify reads from disk again.
func (r *Recognizer) Reset() {
	r.current.Store(nil)
}

func (r *Recognizer) Loaded() bool {
	return r.current.Load() != nil
}

func (r *Recognizer) Status() ModelStatus {
	st := ModelStatus{Path: r.modelPath, Labels: []int64{}}
	if held := r.current.Load(); held != nil {
		st.Loaded = true
		st.LoadedAt = held.loadedAt.Unix()
		if m, ok := held.classifier.(*lbph.Model); ok {
			st.Samples = m.Len()
			st.Labels = m.DistinctLabels()
		}
	}
	if r.modelPath != "" {
		info, err := os.Stat(r.modelPath)
		switch {
		case err == nil:
			st.FileExists = true
			st.FileSize = info.Size()
			st.ModifiedAt = info.ModTime().Unix()
		case !errors.Is(err, fs.ErrNotExist):
			logger.Warnf("recognizer: failed to stat model file %s: %v", r.modelPath, err)
		}
	}
	return st
}
