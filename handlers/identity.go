package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/camden-git/faceidbackend/database"
	"github.com/camden-git/faceidbackend/services"
	"github.com/go-chi/chi/v5"
)

// IdentityReader is the read side of the identity table.
type IdentityReader interface {
	Get(ctx context.Context, identityID int64) (database.IdentityRecord, error)
	List(ctx context.Context, limit, offset uint64) ([]database.IdentityRecord, error)
	Count(ctx context.Context) (int64, error)
}

// SampleLister lists the stored sample keys of one identity.
type SampleLister interface {
	ListByIdentity(ctx context.Context, identityID int64) ([]string, error)
}

type IdentityHandler struct {
	Identities IdentityReader
	Samples    SampleLister
}

const (
	defaultIdentityPageSize = 50
	maxIdentityPageSize     = 500
)

type IdentityListResponse struct {
	Identities []database.IdentityRecord `json:"identities"`
	Total      int64                     `json:"total"`
	Limit      uint64                    `json:"limit"`
	Offset     uint64                    `json:"offset"`
}

type IdentityDetailResponse struct {
	database.IdentityRecord
	Samples []string `json:"samples"`
}

func parseUintParam(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", services.ErrValidation, name)
	}
	return v, nil
}

// ListIdentities handles GET /api/identities?limit=&offset=.
func (ih *IdentityHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	limit, err := parseUintParam(r, "limit", defaultIdentityPageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	offset, err := parseUintParam(r, "offset", 0)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if limit == 0 || limit > maxIdentityPageSize {
		limit = maxIdentityPageSize
	}

	identities, err := ih.Identities.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("%w: %v", services.ErrDatabase, err))
		return
	}
	total, err := ih.Identities.Count(r.Context())
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("%w: %v", services.ErrDatabase, err))
		return
	}
	if identities == nil {
		identities = []database.IdentityRecord{}
	}
	writeJSON(w, http.StatusOK, IdentityListResponse{
		Identities: identities,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

// GetIdentity handles GET /api/identities/{identity_id}.
func (ih *IdentityHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := strconv.ParseInt(chi.URLParam(r, "identity_id"), 10, 64)
	if err != nil || identityID <= 0 {
		WriteAPIError(w, http.StatusBadRequest, string(services.KindValidation), "identity_id must be a positive integer")
		return
	}

	rec, err := ih.Identities.Get(r.Context(), identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteAPIError(w, http.StatusNotFound, "not_found", fmt.Sprintf("identity %d not found", identityID))
			return
		}
		writeServiceError(w, r, fmt.Errorf("%w: %v", services.ErrDatabase, err))
		return
	}

	samples, err := ih.Samples.ListByIdentity(r.Context(), identityID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if samples == nil {
		samples = []string{}
	}
	writeJSON(w, http.StatusOK, IdentityDetailResponse{IdentityRecord: rec, Samples: samples})
}
