package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"chronovista/storage"
	"chronovista/youtube"
)

// errImportUnsupported is returned for stores that are filled by other tools.
var errImportUnsupported = errors.New("import is only supported by the json store backend")

// importDocument is the file format read by the import command.
type importDocument struct {
	Channels []*storage.Channel `json:"channels"`
	Videos   []*storage.Video   `json:"videos"`
}

// rowImporter is implemented by stores that accept rows from outside a
// recovery transaction.
type rowImporter interface {
	PutChannel(ctx context.Context, ch *storage.Channel) error
	PutVideo(ctx context.Context, v *storage.Video) error
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Load channels and videos into the json store",
		Long: `Load channels and videos into the json store. The file holds
{"channels": [...], "videos": [...]} using the same field names as the store.
Existing rows with the same id are replaced.`,
		Example: `  chronovista import unavailable.json
  jq '{videos: .}' export.json | chronovista import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			store, err := openConfiguredStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			channels, videos, err := importRows(cmd.Context(), store, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d channels and %d videos.\n", channels, videos)
			return nil
		},
	}
}

// importRows validates the whole document before writing anything, then
// writes channels before videos so channel references resolve.
func importRows(ctx context.Context, store storage.Store, r io.Reader) (channels, videos int, err error) {
	importer, ok := store.(rowImporter)
	if !ok {
		return 0, 0, errImportUnsupported
	}

	var doc importDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return 0, 0, fmt.Errorf("decode import file: %w", err)
	}

	for _, ch := range doc.Channels {
		if err := youtube.ValidateChannelID(ch.ChannelID); err != nil {
			return 0, 0, err
		}
		if ch.AvailabilityStatus == "" {
			ch.AvailabilityStatus = storage.StatusAvailable
		}
	}
	for _, v := range doc.Videos {
		if err := youtube.ValidateVideoID(v.VideoID); err != nil {
			return 0, 0, err
		}
	}

	for _, ch := range doc.Channels {
		if err := importer.PutChannel(ctx, ch); err != nil {
			return channels, videos, fmt.Errorf("import channel %s: %w", ch.ChannelID, err)
		}
		channels++
	}
	for _, v := range doc.Videos {
		if err := importer.PutVideo(ctx, v); err != nil {
			return channels, videos, fmt.Errorf("import video %s: %w", v.VideoID, err)
		}
		videos++
	}
	return channels, videos, nil
}
