package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	imageshelf "github.com/Skryldev/image-shelf"
	"github.com/Skryldev/image-shelf/collection"
	"github.com/Skryldev/image-shelf/core"
)

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <image>...",
		Short: "Add images to the front of the collection",
		Long: `Add one or more JPEG, PNG or WebP files.

Each image is fitted into the configured bounding box and stored as JPEG.
Images are added in argument order, so the last one ends up at position 0.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(shelf *imageshelf.Shelf) error {
				return runAdd(cmd, shelf, args)
			})
		},
	}
}

func runAdd(cmd *cobra.Command, shelf *imageshelf.Shelf, paths []string) error {
	srcs := make([]core.Source, 0, len(paths))
	var openErrs []error
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			openErrs = append(openErrs, err)
			continue
		}
		defer f.Close()
		size := int64(-1)
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		srcs = append(srcs, imageshelf.FromReaderWithMeta(f, size, "", filepath.Base(path)))
	}
	if len(srcs) == 0 {
		return errors.Join(openErrs...)
	}

	records, errs := shelf.IngestAll(cmd.Context(), srcs)
	p := message.NewPrinter(language.English)
	added := 0
	for i, rec := range records {
		if errs[i] != nil {
			openErrs = append(openErrs, fmt.Errorf("%s: %w", srcs[i].Name, errs[i]))
			continue
		}
		added++
		p.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", srcs[i].Name, describe(p, rec))
	}
	p.Fprintf(cmd.OutOrStdout(), "%d record(s) in collection\n", shelf.Collection().Len())
	if added == 0 {
		return errors.Join(openErrs...)
	}
	for _, err := range openErrs {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	}
	return nil
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(shelf *imageshelf.Shelf) error {
				records := shelf.Collection().Records()
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "collection is empty")
					return nil
				}
				p := message.NewPrinter(language.English)
				for i, rec := range records {
					p.Fprintf(cmd.OutOrStdout(), "%3d  %s  %s\n", i, rec.CreatedAt.Local().Format(time.RFC3339), describe(p, rec))
				}
				return nil
			})
		},
	}
}

// describe renders the size and pixel dimensions of a record's payload.
func describe(p *message.Printer, rec core.Record) string {
	meta, err := collection.Preview(rec)
	if err != nil {
		return p.Sprintf("%d bytes, undecodable", len(rec.Payload))
	}
	// Pixel sizes are not grouped.
	return p.Sprintf("%d bytes, ", len(rec.Payload)) + fmt.Sprintf("%dx%d", meta.Width, meta.Height)
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <position>",
		Short: "Remove the record at a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(shelf *imageshelf.Shelf) error {
				if err := shelf.Evict(cmd.Context(), pos); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed position %d, %d record(s) left\n", pos, shelf.Collection().Len())
				return nil
			})
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <position> <out.jpg>",
		Short: "Write a record's JPEG payload to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(shelf *imageshelf.Shelf) error {
				rec, err := shelf.Collection().At(pos)
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[1], rec.Payload, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
				return nil
			})
		},
	}
}

func parsePosition(s string) (int, error) {
	pos, err := strconv.Atoi(s)
	if err != nil || pos < 0 {
		return 0, fmt.Errorf("invalid position %q: must be a non-negative integer", s)
	}
	return pos, nil
}
