//go:build !vips

package cli

import (
	"fmt"

	imageshelf "github.com/Skryldev/image-shelf"
	"github.com/Skryldev/image-shelf/config"
)

func codecBackend(cfg config.Config) (imageshelf.CodecBackend, error) {
	return nil, fmt.Errorf("codec backend %q is not built in; rebuild with -tags vips", cfg.Codec.Backend)
}
