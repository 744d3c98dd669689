package imageshelf

import (
	"fmt"

	"github.com/Skryldev/image-shelf/config"
	"github.com/Skryldev/image-shelf/core"
	"github.com/Skryldev/image-shelf/store"
)

// Processor exposes the underlying core.Processor for advanced use (e.g.,
// direct registry access in tests).  Prefer the Shelf methods for normal
// usage.
func (s *Shelf) Processor() *core.Processor { return s.proc }

// Codec exposes the codec the collection encodes with.
func (s *Shelf) Codec() *Codec { return s.codec }

// Store exposes the record store behind the collection.
func (s *Shelf) Store() *store.Store[core.Record] { return s.store }

// Config returns the configuration the shelf was opened with.
func (s *Shelf) Config() config.Config { return s.cfg }

func errBackendNotLinked(name config.CodecBackend) error {
	return fmt.Errorf("codec backend %q requested but not supplied with WithCodecBackend", name)
}
