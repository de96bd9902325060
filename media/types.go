package media

import (
	"errors"
	"image"
	"os"
)

var (
	// ErrNotFound is returned by Store.Open for a key that was never stored.
	ErrNotFound = os.ErrNotExist
	// ErrPersistence marks failures of the blob backend itself.
	ErrPersistence = errors.New("sample store failure")
)

const (
	SampleFileExtension = ".png"
	SampleContentType   = "image/png"
)

// Sample is one stored grayscale face crop used for training.
type Sample struct {
	Key        string
	IdentityID int64
	Index      int // -1 when the key carries no parsable index
	Pixels     *image.Gray
}
