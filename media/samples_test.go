package media

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	return img
}

func newSampleStore(t *testing.T) (*SampleStore, *LocalStorage) {
	t.Helper()
	ls, err := NewLocalStorage(filepath.Join(t.TempDir(), "rostros"))
	require.NoError(t, err)
	return NewSampleStore(ls), ls
}

func collect(t *testing.T, s *SampleStore) []Sample {
	t.Helper()
	var out []Sample
	for sample, err := range s.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, sample)
	}
	return out
}

func TestSampleKey(t *testing.T) {
	assert.Equal(t, "1_0.png", SampleKey(1, 0))
	assert.Equal(t, "42_3.png", SampleKey(42, 3))
}

func TestParseSampleKey(t *testing.T) {
	tests := []struct {
		key     string
		id      int64
		index   int
		wantErr bool
	}{
		{key: "1_0.png", id: 1, index: 0},
		{key: "sub/dir/12_7.png", id: 12, index: 7},
		{key: "3_front.jpg", id: 3, index: -1},
		{key: "7.png", wantErr: true},
		{key: "ana_0.png", wantErr: true},
		{key: "_0.png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			id, index, err := ParseSampleKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.index, index)
		})
	}
}

func TestSampleStore_RoundTripIsLossless(t *testing.T) {
	s, ls := newSampleStore(t)
	ctx := context.Background()
	px := ramp(90, 90)

	_, err := os.Stat(ls.BasePath())
	require.True(t, os.IsNotExist(err), "directory is created on first write")

	key, err := s.Write(ctx, 1, 0, px)
	require.NoError(t, err)
	assert.Equal(t, "1_0.png", key)

	sample, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sample.IdentityID)
	assert.Equal(t, 0, sample.Index)
	assert.Equal(t, px.Bounds(), sample.Pixels.Bounds())
	assert.Equal(t, px.Pix, sample.Pixels.Pix)
}

func TestSampleStore_AllNaturalOrder(t *testing.T) {
	s, _ := newSampleStore(t)
	ctx := context.Background()

	for _, id := range []int64{10, 2, 1} {
		_, err := s.Write(ctx, id, 0, ramp(20, 20))
		require.NoError(t, err)
	}
	_, err := s.Write(ctx, 2, 1, ramp(20, 20))
	require.NoError(t, err)

	var keys []string
	for _, sample := range collect(t, s) {
		keys = append(keys, sample.Key)
	}
	assert.Equal(t, []string{"1_0.png", "2_0.png", "2_1.png", "10_0.png"}, keys)
}

func TestSampleStore_AllSkipsForeignEntries(t *testing.T) {
	s, ls := newSampleStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, 1, 0, ramp(20, 20))
	require.NoError(t, err)

	require.NoError(t, ls.Put(ctx, "README.txt", strings.NewReader("notes"), -1))
	require.NoError(t, ls.Put(ctx, "unlabeled.png", strings.NewReader("x"), -1))
	require.NoError(t, ls.Put(ctx, "5_0.png", strings.NewReader("not a png"), -1))

	samples := collect(t, s)
	require.Len(t, samples, 1)
	assert.Equal(t, "1_0.png", samples[0].Key)
}

func TestSampleStore_AllSkipsUnreadableEntries(t *testing.T) {
	s, ls := newSampleStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, 1, 0, ramp(20, 20))
	require.NoError(t, err)
	_, err = s.Write(ctx, 9, 0, ramp(20, 20))
	require.NoError(t, err)

	// a symlink pointing at itself cannot be opened
	loop := filepath.Join(ls.BasePath(), "7_0.png")
	require.NoError(t, os.Symlink(loop, loop))
	_, err = ls.Open(ctx, "7_0.png")
	require.ErrorIs(t, err, ErrPersistence)

	var keys []string
	for _, sample := range collect(t, s) {
		keys = append(keys, sample.Key)
	}
	assert.Equal(t, []string{"1_0.png", "9_0.png"}, keys)
}

func TestSampleStore_AllIsRestartable(t *testing.T) {
	s, _ := newSampleStore(t)
	ctx := context.Background()

	assert.Empty(t, collect(t, s))

	_, err := s.Write(ctx, 1, 0, ramp(20, 20))
	require.NoError(t, err)
	assert.Len(t, collect(t, s), 1)

	_, err = s.Write(ctx, 1, 1, ramp(20, 20))
	require.NoError(t, err)
	assert.Len(t, collect(t, s), 2)
}

func TestSampleStore_AllStopsEarly(t *testing.T) {
	s, _ := newSampleStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Write(ctx, 1, i, ramp(20, 20))
		require.NoError(t, err)
	}

	n := 0
	for range s.All(ctx) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestSampleStore_ListByIdentityAndDelete(t *testing.T) {
	s, _ := newSampleStore(t)
	ctx := context.Background()

	for _, w := range []struct {
		id  int64
		idx int
	}{{1, 0}, {1, 1}, {2, 0}} {
		_, err := s.Write(ctx, w.id, w.idx, ramp(16, 16))
		require.NoError(t, err)
	}

	keys, err := s.ListByIdentity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_0.png", "1_1.png"}, keys)

	require.NoError(t, s.Delete(ctx, "1_0.png"))
	require.NoError(t, s.Delete(ctx, "1_0.png"), "deleting twice is not an error")

	keys, err = s.ListByIdentity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_1.png"}, keys)
}

func TestSampleStore_Open(t *testing.T) {
	s, _ := newSampleStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, 4, 0, ramp(16, 16))
	require.NoError(t, err)

	rc, err := s.Open(ctx, "4_0.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("\x89PNG"), data[:4])

	_, err = s.Open(ctx, "4_9.png")
	assert.ErrorIs(t, err, ErrNotFound)
}
