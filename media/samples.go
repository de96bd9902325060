package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
	"path"
	"strconv"
	"strings"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/facette/natsort"
)

// SampleStore persists face crops as "{identity_id}_{index}.png" blobs.
type SampleStore struct {
	store Store
	proc  *Processor
}

func NewSampleStore(store Store) *SampleStore {
	return &SampleStore{store: store, proc: NewProcessor(store)}
}

func SampleKey(identityID int64, index int) string {
	return fmt.Sprintf("%d_%d%s", identityID, index, SampleFileExtension)
}

// ParseSampleKey extracts the identity label from the base name: everything
// before the first underscore. The index is -1 when it cannot be parsed.
func ParseSampleKey(key string) (int64, int, error) {
	base := path.Base(key)
	head, rest, _ := strings.Cut(base, "_")
	identityID, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, -1, fmt.Errorf("sample key '%s' has no numeric identity label", key)
	}
	index, err := strconv.Atoi(strings.TrimSuffix(rest, path.Ext(rest)))
	if err != nil {
		index = -1
	}
	return identityID, index, nil
}

// Write encodes px as PNG under the identity's sample key.
func (s *SampleStore) Write(ctx context.Context, identityID int64, index int, px *image.Gray) (string, error) {
	if px == nil {
		return "", fmt.Errorf("nil sample for identity %d", identityID)
	}
	key := SampleKey(identityID, index)
	if err := s.proc.SavePNG(ctx, key, px); err != nil {
		if errors.Is(err, ErrPersistence) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return key, nil
}

// Read decodes one stored sample.
func (s *SampleStore) Read(ctx context.Context, key string) (Sample, error) {
	identityID, index, err := ParseSampleKey(key)
	if err != nil {
		return Sample{}, err
	}
	px, err := s.proc.LoadGray(ctx, key)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Key: key, IdentityID: identityID, Index: index, Pixels: px}, nil
}

// All yields every stored sample in natural key order. The listing happens
// when iteration starts, so the sequence can be ranged over again to see
// newly written samples. Keys that are not raster images are ignored;
// unlabeled, unreadable or undecodable samples are skipped with a warning.
// Only a listing failure or a cancelled ctx is yielded, and it ends the
// sequence.
func (s *SampleStore) All(ctx context.Context) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		keys, err := s.store.List(ctx, "")
		if err != nil {
			yield(Sample{}, err)
			return
		}
		natsort.Sort(keys)

		for _, key := range keys {
			if !IsRasterImage(key) {
				continue
			}
			sample, err := s.Read(ctx, key)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(Sample{}, ctxErr)
					return
				}
				logger.Warnf("media.samples: skipping sample %s: %v", key, err)
				continue
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

// Keys lists every sample key in natural order.
func (s *SampleStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if IsRasterImage(k) {
			out = append(out, k)
		}
	}
	natsort.Sort(out)
	return out, nil
}

// ListByIdentity returns the keys labeled with identityID.
func (s *SampleStore) ListByIdentity(ctx context.Context, identityID int64) ([]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if id, _, err := ParseSampleKey(k); err == nil && id == identityID {
			out = append(out, k)
		}
	}
	return out, nil
}

// Open returns the raw PNG bytes of a sample.
func (s *SampleStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !IsRasterImage(key) {
		return nil, fmt.Errorf("asset not found at '%s': %w", key, ErrNotFound)
	}
	return s.store.Open(ctx, key)
}

func (s *SampleStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
