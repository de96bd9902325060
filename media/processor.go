package media

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/disintegration/imaging"
)

// Processor encodes face crops into blobs and decodes them back. It relies
// on a Store implementation for the bytes.
type Processor struct {
	store Store
}

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// SavePNG streams img into the store as a lossless PNG under key.
func (p *Processor) SavePNG(ctx context.Context, key string, img image.Image) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("invalid sample dimensions: %dx%d", b.Dx(), b.Dy())
	}

	reader, writer := io.Pipe()

	go func() {
		defer writer.Close()
		err := imaging.Encode(writer, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
		if err != nil {
			logger.Errorf("processor: Failed to encode sample %s: %v", key, err)
			writer.CloseWithError(fmt.Errorf("sample encoding failed: %w", err))
		}
	}()

	err := p.store.Put(ctx, key, reader, -1)
	// unblock the encoder if Put returned before draining the pipe
	reader.Close()
	if err != nil {
		return fmt.Errorf("failed to save sample %s: %w", key, err)
	}
	return nil
}

// LoadGray reads key and decodes it as an 8-bit grayscale image.
func (p *Processor) LoadGray(ctx context.Context, key string) (*image.Gray, error) {
	rc, err := p.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sample %s: %w", key, err)
	}
	return ToGray(img), nil
}
