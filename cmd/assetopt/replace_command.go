package main

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"assetopt/internal/textutil"
)

func newReplaceCommand(ctx *commandContext) *cobra.Command {
	var filename string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replace ASSET_ID SOURCE_URL",
		Short: "Replace one asset's binary with the image at SOURCE_URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.datoClient(cfg)
			if err != nil {
				return err
			}

			assetID, sourceURL := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			name := textutil.SanitizeFileName(filename)
			if name == "" {
				name = filenameFromURL(sourceURL)
			}

			asset, err := client.ReplaceFromURL(cmd.Context(), assetID, sourceURL, name)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, asset)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replaced asset %s: %s (%s)\n", asset.ID, asset.Path, humanize.IBytes(uint64(max(asset.Size, 0))))
			return nil
		},
	}

	cmd.Flags().StringVar(&filename, "filename", "", "Filename for the new upload (defaults to the source URL's basename)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the updated asset as JSON")
	return cmd
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		return ""
	}
	return textutil.SanitizeFileName(base)
}
