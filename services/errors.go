package services

import (
	"errors"

	"github.com/camden-git/faceidbackend/lbph"
	"github.com/camden-git/faceidbackend/media"
	"github.com/camden-git/faceidbackend/utils"
)

var (
	ErrValidation     = errors.New("invalid request")
	ErrDecode         = utils.ErrDecode
	ErrNoFaceDetected = errors.New("no face detected in the image")
	ErrNoTrainingData = errors.New("no training samples available")
	ErrModelNotFound  = lbph.ErrModelNotFound
	ErrModelCorrupt   = lbph.ErrModelCorrupt
	ErrPersistence    = media.ErrPersistence
	ErrDatabase       = errors.New("database error")
	ErrTraining       = errors.New("model training failed")
)

// Kind is the machine-readable error category reported to clients.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindDecode         Kind = "decode"
	KindDetection      Kind = "detection"
	KindNoTrainingData Kind = "no_training_data"
	KindModelNotFound  Kind = "model_not_found"
	KindModelCorrupt   Kind = "model_corrupt"
	KindTraining       Kind = "training"
	KindDatabase       Kind = "database"
	KindPersistence    Kind = "persistence"
	KindInternal       Kind = "internal"
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrDecode, KindDecode},
	{ErrNoFaceDetected, KindDetection},
	{ErrNoTrainingData, KindNoTrainingData},
	{ErrModelNotFound, KindModelNotFound},
	{ErrModelCorrupt, KindModelCorrupt},
	{ErrTraining, KindTraining},
	{ErrDatabase, KindDatabase},
	{ErrPersistence, KindPersistence},
}

// KindOf maps an error chain to its Kind. The first matching sentinel wins.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
