package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/camden-git/faceidbackend/lbph"
	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/media"
	"github.com/camden-git/faceidbackend/models"
	"github.com/camden-git/faceidbackend/repository"
	"github.com/camden-git/faceidbackend/utils"
)

// ImageNormalizer decodes image bytes into an equalized grayscale image.
type ImageNormalizer interface {
	Normalize(data []byte) (*image.Gray, error)
}

// FaceDetector returns face boxes in detection order.
type FaceDetector interface {
	Detect(img *image.Gray) ([]image.Rectangle, error)
}

// IdentityLookup resolves a predicted label to a display name.
type IdentityLookup interface {
	LookupName(ctx context.Context, identityID int64) (name string, found bool, err error)
}

// Serializer runs fn exclusively with respect to every other job it runs.
type Serializer interface {
	Do(ctx context.Context, label string, fn func(ctx context.Context) error) error
}

// EventPublisher receives notifications about enrollments and retrains.
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

const (
	EventEnrolled      = "identity.enrolled"
	EventModelTrained  = "model.trained"
	EventTrainingError = "model.training_failed"
)

type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func boxOf(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

type RecognitionResult struct {
	IdentityName      string `json:"identity_name"`
	ConfidencePercent int    `json:"confidence_percent"`
	IdentityID        int64  `json:"identity_id"`
	Recognized        bool   `json:"recognized"`
	Box               Box    `json:"box"`
}

type EnrollResult struct {
	IdentityID int64         `json:"identity_id"`
	Name       string        `json:"name"`
	Samples    []string      `json:"samples"`
	Training   TrainingStats `json:"training"`
}

// Enrollment is a decoded and detected enrollment request, ready to commit.
type Enrollment struct {
	Name        string
	SourceImage string
	Boxes       []image.Rectangle
	Crops       []*image.Gray
}

type Options struct {
	Normalizer ImageNormalizer
	Detector   FaceDetector
	Identities repository.IdentityRepositoryInterface
	Names      IdentityLookup
	Samples    *media.SampleStore
	Trainer    *Trainer
	Recognizer *Recognizer
	Policy     ConfidencePolicy
	// Writer serializes enrollments and retrains. Defaults to an in-process lock.
	Writer Serializer
	Events EventPublisher
}

// FaceService runs the enroll and recognize pipelines.
type FaceService struct {
	normalizer ImageNormalizer
	detector   FaceDetector
	identities repository.IdentityRepositoryInterface
	names      IdentityLookup
	samples    *media.SampleStore
	trainer    *Trainer
	recognizer *Recognizer
	policy     ConfidencePolicy
	writer     Serializer
	events     EventPublisher
}

func NewFaceService(opts Options) (*FaceService, error) {
	switch {
	case opts.Normalizer == nil:
		return nil, fmt.Errorf("face service: normalizer is required")
	case opts.Detector == nil:
		return nil, fmt.Errorf("face service: detector is required")
	case opts.Identities == nil:
		return nil, fmt.Errorf("face service: identity repository is required")
	case opts.Names == nil:
		return nil, fmt.Errorf("face service: identity lookup is required")
	case opts.Samples == nil:
		return nil, fmt.Errorf("face service: sample store is required")
	case opts.Trainer == nil:
		return nil, fmt.Errorf("face service: trainer is required")
	case opts.Recognizer == nil:
		return nil, fmt.Errorf("face service: recognizer is required")
	}

	s := &FaceService{
		normalizer: opts.Normalizer,
		detector:   opts.Detector,
		identities: opts.Identities,
		names:      opts.Names,
		samples:    opts.Samples,
		trainer:    opts.Trainer,
		recognizer: opts.Recognizer,
		policy:     opts.Policy,
		writer:     opts.Writer,
		events:     opts.Events,
	}
	if s.policy == nil {
		s.policy = ScaledPolicy{ReferenceDistance: DefaultReferenceDistance, Threshold: DefaultThreshold}
	}
	if s.writer == nil {
		s.writer = &inlineSerializer{}
	}
	return s, nil
}

func (s *FaceService) Recognizer() *Recognizer {
	return s.recognizer
}

func (s *FaceService) publish(eventType string, payload interface{}) {
	if s.events != nil {
		s.events.Publish(eventType, payload)
	}
}

func (s *FaceService) decode(payload string) (*image.Gray, error) {
	data, err := utils.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return s.normalizer.Normalize(data)
}

// PrepareEnrollment validates the request, decodes the image and detects the
// faces to store. Nothing is persisted.
func (s *FaceService) PrepareEnrollment(name, payload string) (*Enrollment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("%w: image is required", ErrValidation)
	}

	source, err := utils.StripDataURI(payload)
	if err != nil {
		return nil, err
	}
	gray, err := s.decode(payload)
	if err != nil {
		return nil, err
	}

	boxes, err := s.detector.Detect(gray)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(boxes) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(boxes) > 1 {
		logger.Warnf("face_service: enrollment image for %q contains %d faces; all are stored for the same identity", name, len(boxes))
	}

	e := &Enrollment{Name: name, SourceImage: source}
	for _, box := range boxes {
		crop := media.CropGray(gray, box)
		if crop == nil {
			continue
		}
		e.Boxes = append(e.Boxes, box)
		e.Crops = append(e.Crops, crop)
	}
	if len(e.Crops) == 0 {
		return nil, ErrNoFaceDetected
	}
	return e, nil
}

// Enroll stores a new identity with one sample per detected face and
// retrains the model. It is all-or-nothing: on failure no row, no sample
// and no new model remain.
func (s *FaceService) Enroll(ctx context.Context, name, payload string) (EnrollResult, error) {
	e, err := s.PrepareEnrollment(name, payload)
	if err != nil {
		return EnrollResult{}, err
	}

	var result EnrollResult
	err = s.writer.Do(ctx, "enroll", func(ctx context.Context) error {
		r, err := s.commit(ctx, e)
		result = r
		return err
	})
	if err != nil {
		return EnrollResult{}, err
	}
	return result, nil
}

func (s *FaceService) commit(ctx context.Context, e *Enrollment) (EnrollResult, error) {
	var (
		result    EnrollResult
		written   []string
		model     *lbph.Model
		published bool
		createdID int64
	)

	err := s.identities.Transaction(ctx, func(tx repository.IdentityRepositoryInterface) error {
		identity := &models.Identity{Name: e.Name, SourceImage: e.SourceImage}
		if err := tx.Create(identity); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		createdID = identity.ID

		// a rolled-back enrollment can hand its id out again; samples it
		// failed to remove must not train under this identity
		if err := s.purgeSamples(ctx, identity.ID); err != nil {
			return err
		}

		for i, crop := range e.Crops {
			key, err := s.samples.Write(ctx, identity.ID, i, crop)
			if err != nil {
				return err
			}
			written = append(written, key)
		}

		m, stats, err := s.trainer.Retrain(ctx)
		if err != nil {
			return err
		}
		model = m
		published = true

		result = EnrollResult{
			IdentityID: identity.ID,
			Name:       identity.Name,
			Samples:    written,
			Training:   stats,
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			err = fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		logger.Errorf("face_service: enrollment of %q failed, rolling back %d samples: %v", e.Name, len(written), err)
		s.discardSamples(createdID, written)
		if published {
			s.restoreModel(ctx)
		}
		return EnrollResult{}, err
	}

	s.recognizer.Refresh(model)
	logger.Infof("face_service: enrolled %q as identity %d with %d samples", result.Name, result.IdentityID, len(result.Samples))
	s.publish(EventEnrolled, result)
	s.publish(EventModelTrained, result.Training)
	return result, nil
}

func (s *FaceService) discardSamples(identityID int64, keys []string) {
	ctx := context.Background()
	for _, key := range keys {
		if err := s.samples.Delete(ctx, key); err != nil {
			logger.Errorf("face_service: orphaned sample %s of rolled-back identity %d, remove it manually: %v", key, identityID, err)
		}
	}
}

func (s *FaceService) purgeSamples(ctx context.Context, identityID int64) error {
	stale, err := s.samples.ListByIdentity(ctx, identityID)
	if err != nil {
		return fmt.Errorf("%w: failed to list samples of identity %d: %v", ErrPersistence, identityID, err)
	}
	for _, key := range stale {
		logger.Warnf("face_service: removing stale sample %s left by a rolled-back identity %d", key, identityID)
		if err := s.samples.Delete(ctx, key); err != nil {
			return fmt.Errorf("%w: failed to remove stale sample %s: %v", ErrPersistence, key, err)
		}
	}
	return nil
}

// restoreModel rebuilds the artifact from the samples that remain after a
// rollback. With no samples left the artifact is removed.
func (s *FaceService) restoreModel(ctx context.Context) {
	m, _, err := s.trainer.Retrain(ctx)
	switch {
	case err == nil:
		s.recognizer.Refresh(m)
	case errors.Is(err, ErrNoTrainingData):
		if rmErr := s.trainer.RemoveModel(); rmErr != nil {
			logger.Errorf("face_service: %v", rmErr)
		}
		s.recognizer.Reset()
	default:
		logger.Errorf("face_service: failed to restore model after rollback: %v", err)
		s.recognizer.Reset()
	}
}

// Recognize classifies every face in the image. The model is loaded before
// detection, so a missing model is reported even for images without faces.
func (s *FaceService) Recognize(ctx context.Context, payload string) ([]RecognitionResult, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("%w: image is required", ErrValidation)
	}
	gray, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	if err := s.recognizer.Ensure(); err != nil {
		return nil, err
	}

	boxes, err := s.detector.Detect(gray)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	results := make([]RecognitionResult, 0, len(boxes))
	for _, box := range boxes {
		region := media.CropGray(gray, box)
		if region == nil {
			continue
		}
		label, distance, err := s.recognizer.Classify(region)
		if err != nil {
			if errors.Is(err, lbph.ErrImageTooSmall) {
				logger.Warnf("face_service: skipping face at %v: %v", box, err)
				continue
			}
			return nil, err
		}

		decision := s.policy.Decide(distance)
		if !decision.Report {
			continue
		}
		name := UnrecognizedName
		if decision.Recognized {
			name = s.resolveName(ctx, label)
		}
		results = append(results, RecognitionResult{
			IdentityName:      name,
			ConfidencePercent: decision.Percent,
			IdentityID:        label,
			Recognized:        decision.Recognized,
			Box:               boxOf(box),
		})
	}
	return results, nil
}

// Detect returns the face boxes of an image without classifying them.
func (s *FaceService) Detect(payload string) ([]image.Rectangle, error) {
	gray, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	boxes, err := s.detector.Detect(gray)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	return boxes, nil
}

func (s *FaceService) resolveName(ctx context.Context, identityID int64) string {
	name, found, err := s.names.LookupName(ctx, identityID)
	if err != nil {
		logger.Errorf("face_service: failed to look up identity %d: %v", identityID, err)
		return UnknownIdentityName
	}
	if !found {
		return UnknownIdentityName
	}
	return name
}

// Retrain rebuilds the model from all samples through the writer.
func (s *FaceService) Retrain(ctx context.Context) (TrainingStats, error) {
	var stats TrainingStats
	err := s.writer.Do(ctx, "retrain", func(ctx context.Context) error {
		m, st, err := s.trainer.Retrain(ctx)
		if err != nil {
			return err
		}
		s.recognizer.Refresh(m)
		stats = st
		return nil
	})
	if err != nil {
		s.publish(EventTrainingError, map[string]string{"error": err.Error(), "kind": string(KindOf(err))})
		return TrainingStats{}, err
	}
	s.publish(EventModelTrained, stats)
	return stats, nil
}

// RetrainIfMissing trains once when samples exist but no artifact does.
func (s *FaceService) RetrainIfMissing(ctx context.Context) (bool, error) {
	if s.recognizer.Status().FileExists {
		return false, nil
	}
	keys, err := s.samples.Keys(ctx)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}
	logger.Infof("face_service: no model at %s but %d samples stored, retraining", s.trainer.ModelPath(), len(keys))
	if _, err := s.Retrain(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// inlineSerializer is the fallback writer when no queue is configured.
type inlineSerializer struct {
	mu sync.Mutex
}

func (w *inlineSerializer) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(context.WithoutCancel(ctx))
}
