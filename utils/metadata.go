package utils

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
)

// OrientationNormal is the EXIF orientation of an upright image.
const OrientationNormal = 1

// helper to safely get an integer tag
func getInt(exifData *exif.Exif, tagName exif.FieldName) (int, bool) {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return 0, false
	}
	val, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return val, true
}

// ImageOrientation returns the EXIF orientation (1..8) of encoded image
// bytes, or OrientationNormal when there is no usable EXIF block.
func ImageOrientation(data []byte) int {
	exifData, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// most uploads (PNG, stripped JPEG) carry no EXIF
		return OrientationNormal
	}
	o, ok := getInt(exifData, exif.Orientation)
	if !ok || o < 1 || o > 8 {
		return OrientationNormal
	}
	return o
}
