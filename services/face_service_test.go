package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/camden-git/faceidbackend/database"
	"github.com/camden-git/faceidbackend/media"
	"github.com/camden-git/faceidbackend/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngNormalizer decodes without OpenCV so the pipeline can be tested anywhere.
type pngNormalizer struct{}

func (pngNormalizer) Normalize(data []byte) (*image.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	return media.ToGray(img), nil
}

// wholeImageDetector reports one face covering the image unless every pixel
// has the same value.
type wholeImageDetector struct {
	box image.Rectangle // overrides the full-image box when set
}

func (d wholeImageDetector) Detect(img *image.Gray) ([]image.Rectangle, error) {
	first := img.Pix[0]
	uniform := true
	for _, v := range img.Pix {
		if v != first {
			uniform = false
			break
		}
	}
	if uniform {
		return []image.Rectangle{}, nil
	}
	if !d.box.Empty() {
		return []image.Rectangle{d.box}, nil
	}
	return []image.Rectangle{img.Bounds()}, nil
}

// flakyStore fails every Put while failPuts is set.
type flakyStore struct {
	*media.LocalStorage
	failPuts atomic.Bool
}

func (f *flakyStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if f.failPuts.Load() {
		io.Copy(io.Discard, r)
		return errors.Join(media.ErrPersistence, errors.New("disk full"))
	}
	return f.LocalStorage.Put(ctx, key, r, size)
}

type fixedClassifier struct {
	label    int64
	distance float64
}

func (c fixedClassifier) Predict(*image.Gray) (int64, float64, error) {
	return c.label, c.distance, nil
}

type recordedEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordedEvents) Publish(eventType string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

type fixture struct {
	svc       *FaceService
	repo      *repository.IdentityRepository
	samples   *media.SampleStore
	store     *flakyStore
	modelPath string
	events    *recordedEvents
}

func newFixture(t *testing.T, detector FaceDetector) *fixture {
	t.Helper()
	dir := t.TempDir()

	gdb, err := database.InitGormDB(database.DriverSQLite, filepath.Join(dir, "faces.db"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(gdb))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	ls, err := media.NewLocalStorage(filepath.Join(dir, "rostros"))
	require.NoError(t, err)
	store := &flakyStore{LocalStorage: ls}
	samples := media.NewSampleStore(store)

	modelPath := filepath.Join(dir, "modelos", "lbph_model.bin")
	repo := repository.NewIdentityRepository(gdb)
	events := &recordedEvents{}

	svc, err := NewFaceService(Options{
		Normalizer: pngNormalizer{},
		Detector:   detector,
		Identities: repo,
		Names:      database.IdentityReader{DB: sqlDB},
		Samples:    samples,
		Trainer:    NewTrainer(samples, modelPath),
		Recognizer: NewRecognizer(modelPath),
		Events:     events,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, samples: samples, store: store, modelPath: modelPath, events: events}
}

func checkerImage(size, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(40)
			if (x/cell+y/cell)%2 == 0 {
				v = 210
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func gradientImage(size int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*3 + y*2) % 256)})
		}
	}
	return img
}

func uniformImage(size int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func payloadOf(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestEnrollThenRecognize(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()
	ana := payloadOf(t, checkerImage(90, 5))

	res, err := f.svc.Enroll(ctx, "Ana", ana)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.IdentityID)
	assert.Equal(t, []string{"1_0.png"}, res.Samples)
	assert.Equal(t, 1, res.Training.Samples)
	assert.FileExists(t, f.modelPath)

	identity, err := f.repo.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, "Ana", identity.Name)
	assert.NotContains(t, identity.SourceImage, "data:")

	results, err := f.svc.Recognize(ctx, ana)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Ana", results[0].IdentityName)
	assert.Equal(t, int64(1), results[0].IdentityID)
	assert.True(t, results[0].Recognized)
	assert.Greater(t, results[0].ConfidencePercent, 85)
	assert.LessOrEqual(t, results[0].ConfidencePercent, 100)
	assert.Equal(t, Box{X: 0, Y: 0, Width: 90, Height: 90}, results[0].Box)

	assert.Equal(t, []string{EventEnrolled, EventModelTrained}, f.events.types)
}

func TestEnroll_TwoIdentitiesAreDistinguished(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)
	res, err := f.svc.Enroll(ctx, "Luis", payloadOf(t, gradientImage(90)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.IdentityID)
	assert.Equal(t, 2, res.Training.Identities)

	results, err := f.svc.Recognize(ctx, payloadOf(t, gradientImage(90)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Luis", results[0].IdentityName)
	assert.Equal(t, int64(2), results[0].IdentityID)
}

func TestEnroll_NoFaceLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, uniformImage(90)))
	require.ErrorIs(t, err, ErrNoFaceDetected)
	assert.Equal(t, KindDetection, KindOf(err))

	all, err := f.repo.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)

	keys, err := f.samples.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoFileExists(t, f.modelPath)
}

func TestEnroll_Validation(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "   ", payloadOf(t, checkerImage(40, 4)))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Enroll(ctx, "Ana", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Enroll(ctx, "Ana", "@@@ not base64 @@@")
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, KindDecode, KindOf(err))
}

func TestEnroll_RollbackOnSampleWriteFailure(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)
	before, err := os.ReadFile(f.modelPath)
	require.NoError(t, err)

	f.store.failPuts.Store(true)
	_, err = f.svc.Enroll(ctx, "Luis", payloadOf(t, gradientImage(90)))
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
	f.store.failPuts.Store(false)

	all, err := f.repo.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Ana", all[0].Name)

	keys, err := f.samples.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_0.png"}, keys)

	after, err := os.ReadFile(f.modelPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "model must not change when enrollment fails before training")

	results, err := f.svc.Recognize(ctx, payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Ana", results[0].IdentityName)
}

func TestEnroll_RollbackWhenTrainingFails(t *testing.T) {
	// a 6x6 crop is below the LBPH minimum, so the only sample is skipped
	f := newFixture(t, wholeImageDetector{box: image.Rect(0, 0, 6, 6)})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.ErrorIs(t, err, ErrNoTrainingData)

	all, err := f.repo.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)

	keys, err := f.samples.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoFileExists(t, f.modelPath)
}

func TestRecognize_BeforeTraining(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})

	_, err := f.svc.Recognize(context.Background(), payloadOf(t, checkerImage(90, 5)))
	require.ErrorIs(t, err, ErrModelNotFound)
	assert.Equal(t, KindModelNotFound, KindOf(err))

	_, err = f.svc.Recognize(context.Background(), payloadOf(t, uniformImage(90)))
	assert.ErrorIs(t, err, ErrModelNotFound, "the model is loaded before detection")
}

func TestRecognize_CorruptModel(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	require.NoError(t, os.MkdirAll(filepath.Dir(f.modelPath), 0755))
	require.NoError(t, os.WriteFile(f.modelPath, []byte("%YAML:1.0"), 0644))

	_, err := f.svc.Recognize(context.Background(), payloadOf(t, checkerImage(90, 5)))
	require.ErrorIs(t, err, ErrModelCorrupt)
	assert.Equal(t, KindModelCorrupt, KindOf(err))
}

func TestRecognize_NoFacesIsEmptySuccess(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)

	results, err := f.svc.Recognize(ctx, payloadOf(t, uniformImage(90)))
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRecognize_ModelLoadedFromDisk(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)

	// simulate a restart: a fresh recognizer only has the artifact
	f.svc.Recognizer().Reset()
	require.False(t, f.svc.Recognizer().Loaded())

	results, err := f.svc.Recognize(ctx, payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Ana", results[0].IdentityName)
	assert.True(t, f.svc.Recognizer().Loaded())
}

func TestRecognize_PolicyOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		classifier fixedClassifier
		policy     ConfidencePolicy
		wantLen    int
		wantName   string
		wantPct    int
		recognized bool
	}{
		{
			name:       "scaled below threshold is reported as unrecognized",
			classifier: fixedClassifier{label: 1, distance: 200},
			policy:     ScaledPolicy{ReferenceDistance: 400, Threshold: 85},
			wantLen:    1,
			wantName:   UnrecognizedName,
			wantPct:    50,
		},
		{
			name:       "scaled label without identity row",
			classifier: fixedClassifier{label: 99, distance: 10},
			policy:     ScaledPolicy{ReferenceDistance: 400, Threshold: 85},
			wantLen:    1,
			wantName:   UnknownIdentityName,
			wantPct:    98,
			recognized: true,
		},
		{
			name:       "raw accepted",
			classifier: fixedClassifier{label: 1, distance: 30},
			policy:     RawPolicy{MaxDistance: 100},
			wantLen:    1,
			wantName:   "Ana",
			wantPct:    70,
			recognized: true,
		},
		{
			name:       "raw rejected is omitted",
			classifier: fixedClassifier{label: 1, distance: 100},
			policy:     RawPolicy{MaxDistance: 100},
			wantLen:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, wholeImageDetector{})
			ctx := context.Background()
			_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
			require.NoError(t, err)

			f.svc.policy = tt.policy
			f.svc.Recognizer().Refresh(tt.classifier)

			results, err := f.svc.Recognize(ctx, payloadOf(t, checkerImage(90, 5)))
			require.NoError(t, err)
			require.Len(t, results, tt.wantLen)
			if tt.wantLen == 0 {
				return
			}
			assert.Equal(t, tt.wantName, results[0].IdentityName)
			assert.Equal(t, tt.wantPct, results[0].ConfidencePercent)
			assert.Equal(t, tt.recognized, results[0].Recognized)
			assert.Equal(t, tt.classifier.label, results[0].IdentityID)
		})
	}
}

func TestRetrain_EmptyStoreKeepsModelFile(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	require.NoError(t, os.MkdirAll(filepath.Dir(f.modelPath), 0755))
	previous := []byte("previous artifact bytes")
	require.NoError(t, os.WriteFile(f.modelPath, previous, 0644))

	_, err := f.svc.Retrain(context.Background())
	require.ErrorIs(t, err, ErrNoTrainingData)
	assert.Equal(t, KindNoTrainingData, KindOf(err))

	after, err := os.ReadFile(f.modelPath)
	require.NoError(t, err)
	assert.Equal(t, previous, after)
	assert.Contains(t, f.events.types, EventTrainingError)
}

func TestRetrain_RebuildsFromSamples(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.modelPath))

	trained, err := f.svc.RetrainIfMissing(ctx)
	require.NoError(t, err)
	assert.True(t, trained)
	assert.FileExists(t, f.modelPath)

	trained, err = f.svc.RetrainIfMissing(ctx)
	require.NoError(t, err)
	assert.False(t, trained)

	stats, err := f.svc.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, 1, stats.Identities)
}

func TestRetrain_SkipsUnreadableSample(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)

	loop := filepath.Join(f.store.BasePath(), "7_0.png")
	require.NoError(t, os.Symlink(loop, loop))

	stats, err := f.svc.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)

	res, err := f.svc.Enroll(ctx, "Luis", payloadOf(t, gradientImage(90)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.IdentityID)
}

func TestEnroll_RemovesStaleSamplesOfReusedID(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "Ana", payloadOf(t, checkerImage(90, 5)))
	require.NoError(t, err)

	// left behind by a rolled-back enrollment that was assigned id 2
	_, err = f.samples.Write(ctx, 2, 3, checkerImage(90, 9))
	require.NoError(t, err)

	res, err := f.svc.Enroll(ctx, "Luis", payloadOf(t, gradientImage(90)))
	require.NoError(t, err)
	require.Equal(t, int64(2), res.IdentityID)

	keys, err := f.samples.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_0.png", "2_0.png"}, keys)
	assert.Equal(t, 2, res.Training.Samples)
}

func TestRetrainIfMissing_NoSamples(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	trained, err := f.svc.RetrainIfMissing(context.Background())
	require.NoError(t, err)
	assert.False(t, trained)
}

func TestEnroll_ConcurrentRequestsAreSerialized(t *testing.T) {
	f := newFixture(t, wholeImageDetector{})
	ctx := context.Background()

	images := []image.Image{checkerImage(90, 3), checkerImage(90, 5), checkerImage(90, 9), gradientImage(90)}
	var wg sync.WaitGroup
	errs := make([]error, len(images))
	for i, img := range images {
		wg.Add(1)
		go func(i int, payload string) {
			defer wg.Done()
			_, errs[i] = f.svc.Enroll(ctx, "Persona", payload)
		}(i, payloadOf(t, img))
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	keys, err := f.samples.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(images))

	status := f.svc.Recognizer().Status()
	assert.True(t, status.Loaded)
	assert.Equal(t, len(images), status.Samples)
	assert.Len(t, status.Labels, len(images))
}
