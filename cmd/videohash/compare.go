package main

import (
	"errors"
	"fmt"

	"github.com/keagan/videohash/internal/config"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/keagan/videohash/internal/store"
	"github.com/keagan/videohash/pkg/util"
	"github.com/spf13/cobra"
)

// exitDistinct is the status of compare when the videos are not duplicates.
const exitDistinct = 2

var compareFlags thresholdFlags

var compareCmd = &cobra.Command{
	Use:   "compare [video|hex] [video|hex]",
	Short: "Compare two videos or fingerprints",
	Long:  "Prints the Hamming distance and similarity of two fingerprints and whether they are duplicates. Exits with status 2 when they are distinct.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		var p *pipeline.Pipeline
		if util.FileExists(args[0]) || util.FileExists(args[1]) {
			var err error
			if p, err = newPipeline(cfg); err != nil {
				return err
			}
		}

		a, err := resolveFingerprint(cmd, p, args[0])
		if err != nil {
			return err
		}
		b, err := resolveFingerprint(cmd, p, args[1])
		if err != nil {
			return err
		}

		d, err := fingerprint.Distance(a, b)
		if err != nil {
			return err
		}
		t := compareFlags.threshold(cfg)
		limit, err := t.MaxDistance(d.Width)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "distance:   %d/%d (max %d)\n", d.Distance, d.Width, limit)
		fmt.Fprintf(out, "similarity: %.4f\n", d.Similarity)
		if d.Distance > limit {
			fmt.Fprintln(out, "distinct")
			return exitError{code: exitDistinct}
		}
		fmt.Fprintln(out, "duplicate")
		return nil
	},
}

var searchFlags thresholdFlags

var searchCmd = &cobra.Command{
	Use:   "search [video|hex]",
	Short: "List stored fingerprints close to a video or fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pc, err := cfg.Pipeline()
		if err != nil {
			return err
		}
		var p *pipeline.Pipeline
		if util.FileExists(args[0]) {
			if p, err = newPipeline(cfg); err != nil {
				return err
			}
		}
		fp, err := resolveFingerprint(cmd, p, args[0])
		if err != nil {
			return err
		}
		limit, err := searchFlags.threshold(cfg).MaxDistance(fp.Width())
		if err != nil {
			return err
		}

		st, err := store.Open(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		matches, err := st.FindSimilar(cmd.Context(), fp, pc.Signature(), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, m := range matches {
			fmt.Fprintf(out, "%4d  %.4f  %s\n", m.Distance, m.Similarity, m.Path)
		}
		if len(matches) == 0 {
			fmt.Fprintln(out, "no matches")
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget [video]...",
	Short: "Remove stored fingerprints of videos",
	Long:  "Deletes the records saved for each video under the current fingerprint settings. Videos without a record are reported and skipped.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pc, err := cfg.Pipeline()
		if err != nil {
			return err
		}
		st, err := store.Open(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		out := cmd.OutOrStdout()
		for _, path := range args {
			err := st.Delete(cmd.Context(), path, pc.Signature())
			switch {
			case errors.Is(err, store.ErrNotFound):
				fmt.Fprintf(out, "not stored: %s\n", path)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "forgot: %s\n", path)
			}
		}
		return nil
	},
}

func init() {
	compareFlags.register(compareCmd)
	searchFlags.register(searchCmd)
}
