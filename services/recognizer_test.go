package services

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/camden-git/faceidbackend/lbph"
	"github.com/camden-git/faceidbackend/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizer_LazyLoadAndStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lbph_model.bin")
	r := NewRecognizer(path)

	_, _, err := r.Classify(checkerImage(40, 4))
	require.ErrorIs(t, err, ErrModelNotFound)
	st := r.Status()
	assert.False(t, st.Loaded)
	assert.False(t, st.FileExists)

	m, err := lbph.Train(lbph.DefaultParams(), []*image.Gray{checkerImage(40, 4), gradientImage(40)}, []int64{3, 5})
	require.NoError(t, err)
	require.NoError(t, lbph.SaveFile(path, m))

	// errors are not cached: the file published later is picked up
	label, dist, err := r.Classify(gradientImage(40))
	require.NoError(t, err)
	assert.Equal(t, int64(5), label)
	assert.InDelta(t, 0, dist, 1e-9)

	st = r.Status()
	assert.True(t, st.Loaded)
	assert.True(t, st.FileExists)
	assert.Equal(t, 2, st.Samples)
	assert.Equal(t, []int64{3, 5}, st.Labels)
	assert.NotZero(t, st.ModifiedAt)
}

func TestRecognizer_FailedLoadKeepsHeldModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lbph_model.bin")
	r := NewRecognizer(path)
	r.Refresh(fixedClassifier{label: 7, distance: 1})

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	require.ErrorIs(t, r.Load(), ErrModelCorrupt)

	label, _, err := r.Classify(checkerImage(40, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(7), label)
}

func TestRecognizer_ConcurrentClassifyDuringRefresh(t *testing.T) {
	r := NewRecognizerWithClassifier(fixedClassifier{label: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				label, _, err := r.Classify(checkerImage(20, 2))
				assert.NoError(t, err)
				assert.Contains(t, []int64{1, 2}, label)
			}
		}()
	}
	for j := 0; j < 50; j++ {
		r.Refresh(fixedClassifier{label: int64(1 + j%2)})
	}
	wg.Wait()
}

func TestRecognizer_ClassifyDuringResetReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lbph_model.bin")
	m, err := lbph.Train(lbph.DefaultParams(), []*image.Gray{checkerImage(40, 4), gradientImage(40)}, []int64{3, 5})
	require.NoError(t, err)
	require.NoError(t, lbph.SaveFile(path, m))
	r := NewRecognizer(path)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				label, _, err := r.Classify(gradientImage(40))
				assert.NoError(t, err)
				assert.Equal(t, int64(5), label)
			}
		}()
	}
	for j := 0; j < 200; j++ {
		r.Reset()
	}
	wg.Wait()
}

func TestTrainer_SkipsTooSmallSamples(t *testing.T) {
	dir := t.TempDir()
	ls, err := media.NewLocalStorage(filepath.Join(dir, "rostros"))
	require.NoError(t, err)
	samples := media.NewSampleStore(ls)
	ctx := context.Background()

	_, err = samples.Write(ctx, 1, 0, checkerImage(40, 4))
	require.NoError(t, err)
	_, err = samples.Write(ctx, 2, 0, checkerImage(6, 2))
	require.NoError(t, err)

	var progress []int
	trainer := NewTrainer(samples, filepath.Join(dir, "modelos", "lbph_model.bin")).WithProgress(func(n int) {
		progress = append(progress, n)
	})

	m, stats, err := trainer.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []int{1}, progress)
	assert.FileExists(t, trainer.ModelPath())

	require.NoError(t, trainer.RemoveModel())
	require.NoError(t, trainer.RemoveModel())
	assert.NoFileExists(t, trainer.ModelPath())
}
