package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"image"

	"github.com/camden-git/faceidbackend/config"
	"github.com/camden-git/faceidbackend/database"
	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/media"
	"github.com/camden-git/faceidbackend/repository"
	"github.com/camden-git/faceidbackend/services"
	"github.com/camden-git/faceidbackend/vision"
	"gorm.io/gorm"
)

// app holds the components shared by the commands.
type app struct {
	cfg        config.Config
	gormDB     *gorm.DB
	sqlDB      *sql.DB
	samples    *media.SampleStore
	trainer    *services.Trainer
	recognizer *services.Recognizer
	detector   *vision.CascadeDetector
	faces      *services.FaceService
}

type appOptions struct {
	// Writer and Events are handed to the face service; both may be nil.
	Writer services.Serializer
	Events services.EventPublisher
	// SkipDetector leaves detector and faces nil for commands that only train.
	SkipDetector bool
}

func dataSourceName(cfg config.Config) string {
	if cfg.DatabaseDriver == config.DatabaseDriverMySQL {
		return cfg.DatabaseDSN
	}
	return cfg.DatabasePath
}

func openDatabase(cfg config.Config) (*gorm.DB, *sql.DB, error) {
	gormDB, err := database.InitGormDB(cfg.DatabaseDriver, dataSourceName(cfg), logger.StdLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := database.AutoMigrateModels(gormDB); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return gormDB, sqlDB, nil
}

func openSampleStore(ctx context.Context, cfg config.Config) (*media.SampleStore, error) {
	var store media.Store
	switch cfg.SamplesBackend {
	case config.SamplesBackendMinio:
		ms, err := media.NewMinioStorage(media.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		store = ms
	default:
		ls, err := media.NewLocalStorage(cfg.SamplesPath)
		if err != nil {
			return nil, err
		}
		store = ls
	}
	if err := store.EnsureDir(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare sample store: %w", err)
	}
	return media.NewSampleStore(store), nil
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	a.gormDB, a.sqlDB, err = openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.samples, err = openSampleStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.trainer = services.NewTrainer(a.samples, cfg.ModelPath)
	a.recognizer = services.NewRecognizer(cfg.ModelPath)

	logger.Info("app: storage ready",
		"database_driver", cfg.DatabaseDriver,
		"samples_backend", cfg.SamplesBackend,
		"model_path", cfg.ModelPath)

	if opts.SkipDetector {
		return a, nil
	}

	profile, err := vision.ProfileByName(cfg.DetectorProfile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.detector, err = vision.NewCascadeDetector(cfg.CascadePath, profile)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := services.PolicyByName(cfg.ConfidencePolicy, cfg.ConfidenceThreshold, cfg.ReferenceDistance)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.faces, err = services.NewFaceService(services.Options{
		Normalizer: vision.NewNormalizer(),
		Detector:   a.detector,
		Identities: repository.NewIdentityRepository(a.gormDB),
		Names:      a.identityReader(),
		Samples:    a.samples,
		Trainer:    a.trainer,
		Recognizer: a.recognizer,
		Policy:     policy,
		Writer:     opts.Writer,
		Events:     opts.Events,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("app: face pipeline ready",
		"cascade", cfg.CascadePath,
		"detector_profile", profile.Name,
		"confidence_policy", policy.Name())
	return a, nil
}

func (a *app) identityReader() database.IdentityReader {
	return database.IdentityReader{DB: a.sqlDB}
}

func (a *app) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			logger.Warnf("app: error closing database: %v", err)
		}
	}
}

// annotate adapts vision.Annotate to the debug handler.
func annotate(data []byte, boxes []image.Rectangle, labels []string) ([]byte, error) {
	vb := make([]vision.Box, len(boxes))
	for i, r := range boxes {
		vb[i] = vision.Box{Rect: r}
		if i < len(labels) {
			vb[i].Label = labels[i]
		}
	}
	return vision.Annotate(data, vb)
}
