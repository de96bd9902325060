package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"time"

	"github.com/camden-git/faceidbackend/lbph"
	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/media"
)

// TrainingStats summarizes one retrain.
type TrainingStats struct {
	Samples    int           `json:"samples"`
	Identities int           `json:"identities"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// ProgressFunc is called after every sample read during a retrain.
type ProgressFunc func(samplesRead int)

// Trainer rebuilds the model from every stored sample and publishes it.
type Trainer struct {
	samples   *media.SampleStore
	modelPath string
	params    lbph.Params
	progress  ProgressFunc
}

func NewTrainer(samples *media.SampleStore, modelPath string) *Trainer {
	return &Trainer{
		samples:   samples,
		modelPath: modelPath,
		params:    lbph.DefaultParams(),
	}
}

// WithProgress returns a copy of the trainer that reports to fn.
func (t *Trainer) WithProgress(fn ProgressFunc) *Trainer {
	cp := *t
	cp.progress = fn
	return &cp
}

func (t *Trainer) ModelPath() string {
	return t.modelPath
}

// Retrain runs a full-batch training over all samples. With zero usable
// samples it returns ErrNoTrainingData and leaves the model file untouched.
func (t *Trainer) Retrain(ctx context.Context) (*lbph.Model, TrainingStats, error) {
	start := time.Now()
	var stats TrainingStats

	minSize := t.params.MinImageSize()
	var images []*image.Gray
	var labels []int64
	for sample, err := range t.samples.All(ctx) {
		if err != nil {
			if errors.Is(err, ErrPersistence) {
				return nil, stats, fmt.Errorf("failed to read training samples: %w", err)
			}
			return nil, stats, fmt.Errorf("%w: failed to read training samples: %v", ErrPersistence, err)
		}
		b := sample.Pixels.Bounds()
		if b.Dx() < minSize.X || b.Dy() < minSize.Y {
			logger.Warnf("trainer: skipping sample %s: %dx%d is smaller than %dx%d", sample.Key, b.Dx(), b.Dy(), minSize.X, minSize.Y)
			stats.Skipped++
			continue
		}
		images = append(images, sample.Pixels)
		labels = append(labels, sample.IdentityID)
		if t.progress != nil {
			t.progress(len(images))
		}
	}

	if len(images) == 0 {
		return nil, stats, ErrNoTrainingData
	}

	model, err := lbph.Train(t.params, images, labels)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrTraining, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	if err := lbph.SaveFile(t.modelPath, model); err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	stats.Samples = model.Len()
	stats.Identities = len(model.DistinctLabels())
	stats.Duration = time.Since(start)
	stats.DurationMS = stats.Duration.Milliseconds()
	logger.Infof("trainer: trained model on %d samples of %d identities in %s", stats.Samples, stats.Identities, stats.Duration)
	return model, stats, nil
}

// RemoveModel deletes the artifact. A missing file is not an error.
func (t *Trainer) RemoveModel() error {
	if err := os.Remove(t.modelPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to remove model file '%s': %v", ErrPersistence, t.modelPath, err)
	}
	return nil
}
