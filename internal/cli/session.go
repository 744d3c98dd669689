package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	imageshelf "github.com/Skryldev/image-shelf"
	"github.com/Skryldev/image-shelf/config"
	"github.com/Skryldev/image-shelf/hooks"
)

// session is one opened shelf for the lifetime of a command.
type session struct {
	shelf       *imageshelf.Shelf
	registry    *prometheus.Registry
	metricsFile string
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	shelfOpts := []imageshelf.Option{
		imageshelf.WithLogger(hooks.NewSlogLogger(logger)),
		imageshelf.WithMetrics(hooks.NewPrometheusMetrics(reg)),
	}
	if cfg.Codec.Backend != config.CodecStdlib {
		backend, err := codecBackend(cfg)
		if err != nil {
			return nil, err
		}
		shelfOpts = append(shelfOpts, imageshelf.WithCodecBackend(backend))
	}

	shelf, err := imageshelf.Open(cmd.Context(), cfg, shelfOpts...)
	if err != nil {
		return nil, err
	}
	return &session{shelf: shelf, registry: reg, metricsFile: opts.MetricsFile}, nil
}

// close stops the shelf and writes the metrics file when one was asked for.
func (s *session) close() error {
	s.shelf.Close()
	if s.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// withSession runs fn on an opened shelf and always closes it.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(*imageshelf.Shelf) error) (err error) {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()
	return fn(s.shelf)
}
