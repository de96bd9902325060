package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/media"
	"github.com/go-chi/chi/v5"
)

// SampleOpener opens the stored bytes of a sample crop.
type SampleOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type SampleHandler struct {
	Samples       SampleOpener
	CacheDuration time.Duration
}

// ServeSample handles GET /api/samples/{key}. Keys are flat names such as
// "12_0.png"; anything resembling a path is refused.
func (sh *SampleHandler) ServeSample(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		http.Error(w, "Invalid sample key", http.StatusBadRequest)
		return
	}
	if _, _, err := media.ParseSampleKey(key); err != nil {
		http.Error(w, "Invalid sample key", http.StatusBadRequest)
		return
	}

	rc, err := sh.Samples.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		logger.Errorf("handlers: error opening sample %s: %v", key, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	cacheDuration := sh.CacheDuration
	if cacheDuration <= 0 {
		cacheDuration = 24 * time.Hour
	}
	w.Header().Set("Content-Type", media.SampleContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
	w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

	if _, err := io.Copy(w, rc); err != nil {
		logger.Warnf("handlers: error writing sample %s: %v", key, err)
	}
}
