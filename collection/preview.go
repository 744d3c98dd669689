package collection

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/Skryldev/image-shelf/core"
	apperrors "github.com/Skryldev/image-shelf/errors"
)

// Preview reads only the header of a record's payload.  An error means the
// payload cannot be shown; the record itself is still valid.
func Preview(rec core.Record) (core.Metadata, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(rec.Payload))
	if err != nil {
		return core.Metadata{}, apperrors.Wrap(apperrors.CategoryInput, "collection.preview", err)
	}
	return core.Metadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    core.Format(name),
		SizeBytes: int64(len(rec.Payload)),
	}, nil
}
