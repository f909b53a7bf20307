package main

import (
	"fmt"
	"os"

	"github.com/keagan/videohash/internal/config"
	"github.com/keagan/videohash/internal/scan"
	"github.com/keagan/videohash/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scanWorkers  int
	scanSave     bool
	scanReuse    bool
	scanNoBar    bool
	scanShowHash bool
	scanFlags    thresholdFlags
)

var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "Fingerprint every video under a directory and list duplicate groups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}

		opts := scan.Options{
			Workers:   scanWorkers,
			Threshold: scanFlags.threshold(cfg),
			Signature: p.Config().Signature(),
			Reuse:     scanReuse,
			Save:      scanSave,
		}
		if !scanNoBar {
			opts.Progress = os.Stderr
		}
		if scanSave || scanReuse {
			st, err := store.Open(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			opts.Store = st
		}

		report, err := scan.New(log.Logger, p, opts).Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if scanShowHash {
			for _, it := range report.Items {
				if it.Err == nil {
					fmt.Fprintf(out, "%s  %s\n", it.Fingerprint.Hex(), it.Path)
				}
			}
		}
		for i, g := range report.Groups {
			fmt.Fprintf(out, "group %d (max distance %d):\n", i+1, g.MaxDistance)
			for _, path := range g.Paths {
				fmt.Fprintf(out, "  %s\n", path)
			}
		}

		log.Info().
			Int("videos", len(report.Items)).
			Int("failed", report.Failed).
			Int("groups", len(report.Groups)).
			Msg("scan complete")
		return nil
	},
}

func init() {
	scanCmd.Flags().IntVarP(&scanWorkers, "workers", "w", 2, "videos fingerprinted concurrently")
	scanCmd.Flags().BoolVar(&scanSave, "save", false, "store fingerprints in the configured database")
	scanCmd.Flags().BoolVar(&scanReuse, "reuse", false, "reuse fingerprints already in the database")
	scanCmd.Flags().BoolVar(&scanNoBar, "no-progress", false, "disable the progress bar")
	scanCmd.Flags().BoolVar(&scanShowHash, "print-hashes", false, "print every fingerprint before the groups")
	scanFlags.register(scanCmd)
}
