package handlers

import (
	"context"
	"net/http"

	"github.com/camden-git/faceidbackend/services"
)

// ModelTrainer forces a full retrain.
type ModelTrainer interface {
	Retrain(ctx context.Context) (services.TrainingStats, error)
}

// ModelStatusSource reports the state of the served model.
type ModelStatusSource interface {
	Status() services.ModelStatus
}

type ModelHandler struct {
	Trainer ModelTrainer
	Model   ModelStatusSource
	Queue   QueueStats
}

// QueueStats exposes the depth of the training queue. It may be nil.
type QueueStats interface {
	Pending() int64
	Processed() int64
}

type TrainResponse struct {
	Samples    int   `json:"samples"`
	Identities int   `json:"identities"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

type ModelStatusResponse struct {
	services.ModelStatus
	QueuePending   int64 `json:"queue_pending"`
	QueueProcessed int64 `json:"queue_processed"`
}

// Train handles POST /api/model/train.
func (mh *ModelHandler) Train(w http.ResponseWriter, r *http.Request) {
	stats, err := mh.Trainer.Retrain(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TrainResponse{
		Samples:    stats.Samples,
		Identities: stats.Identities,
		Skipped:    stats.Skipped,
		DurationMS: stats.DurationMS,
	})
}

// Status handles GET /api/model.
func (mh *ModelHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := ModelStatusResponse{ModelStatus: mh.Model.Status()}
	if mh.Queue != nil {
		resp.QueuePending = mh.Queue.Pending()
		resp.QueueProcessed = mh.Queue.Processed()
	}
	writeJSON(w, http.StatusOK, resp)
}
