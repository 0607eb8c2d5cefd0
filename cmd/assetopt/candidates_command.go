package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"assetopt/internal/datocms"
	"assetopt/internal/optimizer"
)

type candidateView struct {
	datocms.Asset
	Transform    *optimizer.TransformSpec `json:"transform,omitempty"`
	TransformURL string                   `json:"transform_url,omitempty"`
}

func newCandidatesCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions
	var limit int

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List assets a run would process, without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			settings, err := resolveSettings(cfg, opts)
			if err != nil {
				return err
			}
			client, err := ctx.datoClient(cfg)
			if err != nil {
				return err
			}

			var views []candidateView
			for asset, err := range client.Candidates(cmd.Context(), settings.LargeThresholdBytes()) {
				if err != nil {
					return err
				}
				view := candidateView{Asset: asset}
				if spec := optimizer.SelectParams(asset, settings); spec != nil {
					view.Transform = spec
					view.TransformURL = spec.URL(asset.URL)
				}
				views = append(views, view)
				if limit > 0 && len(views) >= limit {
					break
				}
			}

			if opts.asJSON {
				if views == nil {
					views = []candidateView{}
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintf(out, "No assets larger than %g MB\n", settings.LargeAssetThreshold)
				return nil
			}
			rows := make([][]string, 0, len(views))
			actionable := 0
			for _, view := range views {
				class, params := "-", "skip"
				if view.Transform != nil {
					actionable++
					class = string(view.Transform.Class)
					params = view.Transform.String()
				}
				rows = append(rows, []string{view.ID, view.Path, humanize.IBytes(uint64(max(view.Size, 0))), class, params})
			}
			fmt.Fprintln(out, renderTable(tableSpec{
				headers: []string{"ID", "Path", "Size", "Class", "Parameters"},
				rows:    rows,
				aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				footer:  []string{"", fmt.Sprintf("%d candidates, %d actionable", len(views), actionable)},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.settingsPath, "settings", "", "JSON optimization settings overriding [optimization]")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Override the large asset threshold in MB")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after N candidates (0 lists all)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	return cmd
}
