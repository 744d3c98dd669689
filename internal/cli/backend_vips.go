//go:build vips

package cli

import (
	"fmt"

	imageshelf "github.com/Skryldev/image-shelf"
	"github.com/Skryldev/image-shelf/adapters/vips"
	"github.com/Skryldev/image-shelf/config"
)

func codecBackend(cfg config.Config) (imageshelf.CodecBackend, error) {
	if cfg.Codec.Backend != config.CodecVips {
		return nil, fmt.Errorf("unknown codec backend %q", cfg.Codec.Backend)
	}
	return vips.NewBackend(vips.BackendConfig{
		DefaultQuality: cfg.Codec.Quality,
		MaxWorkers:     cfg.WorkerCount,
	}), nil
}
