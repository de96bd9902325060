package handlers

import (
	"context"
	"fmt"
	"image"
	"net/http"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/services"
	"github.com/camden-git/faceidbackend/utils"
)

// FaceLocator finds face boxes in an image payload.
type FaceLocator interface {
	Detect(payload string) ([]image.Rectangle, error)
}

// FaceRecognizer classifies the faces of an image payload.
type FaceRecognizer interface {
	Recognize(ctx context.Context, payload string) ([]services.RecognitionResult, error)
}

// AnnotateFunc draws labelled boxes over the image bytes and returns a JPEG.
type AnnotateFunc func(data []byte, boxes []image.Rectangle, labels []string) ([]byte, error)

type DebugHandler struct {
	Locator    FaceLocator
	Recognizer FaceRecognizer
	Annotate   AnnotateFunc
}

// DetectPreview handles POST /debug/detect. The body is {"image": ...}; the
// response is the image with every detected face boxed. With ?recognize=1
// each box carries the recognized name and confidence.
func (dh *DebugHandler) DetectPreview(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	data, err := utils.DecodePayload(req.Image)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var (
		boxes  []image.Rectangle
		labels []string
	)
	if r.URL.Query().Get("recognize") == "1" && dh.Recognizer != nil {
		results, err := dh.Recognizer.Recognize(r.Context(), req.Image)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		for _, res := range results {
			b := res.Box
			boxes = append(boxes, image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height))
			labels = append(labels, fmt.Sprintf("%s %d%%", res.IdentityName, res.ConfidencePercent))
		}
	} else {
		boxes, err = dh.Locator.Detect(req.Image)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		for i := range boxes {
			labels = append(labels, fmt.Sprintf("#%d", i+1))
		}
	}
	logger.Debugf("handlers: drawing %d face boxes for debug preview", len(boxes))

	buf, err := dh.Annotate(data, boxes, labels)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(buf)))

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	if _, err := w.Write(buf); err != nil {
		logger.Warnf("handlers: error writing debug preview: %v", err)
	}
}
