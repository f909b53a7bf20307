package main

import (
	"fmt"
	"os"

	"github.com/keagan/videohash/internal/config"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/keagan/videohash/internal/store"
	"github.com/keagan/videohash/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	hashSave bool
	hashLong bool
	hashBits bool
)

var hashCmd = &cobra.Command{
	Use:   "hash [video]...",
	Short: "Print the fingerprint of each video",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}

		var st store.Store
		if hashSave {
			st, err = store.Open(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
		}

		out := cmd.OutOrStdout()
		for _, path := range args {
			v, err := p.Compute(cmd.Context(), path)
			if err != nil {
				return err
			}
			res, err := v.Result()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, formatHash(res, hashLong, hashBits))

			if st != nil {
				if err := st.Save(cmd.Context(), store.FromResult(res)); err != nil {
					return err
				}
				log.Debug().Str("video", path).Msg("fingerprint saved")
			}
		}
		return nil
	},
}

func init() {
	hashCmd.Flags().BoolVar(&hashSave, "save", false, "store fingerprints in the configured database")
	hashCmd.Flags().BoolVarP(&hashLong, "long", "l", false, "also print duration and frame count")
	hashCmd.Flags().BoolVar(&hashBits, "bits", false, "print the fingerprint as a 0b bit string")
}

func formatHash(res *pipeline.Result, long, bits bool) string {
	repr := res.Fingerprint.Hex()
	if bits {
		repr = res.Fingerprint.BitString()
	}
	if !long {
		return fmt.Sprintf("%s  %s", repr, res.Path)
	}
	return fmt.Sprintf("%s  %s  %3d frames  %s", repr, util.FormatDuration(res.Duration), res.FrameCount, res.Path)
}

// resolveFingerprint treats arg as a video when it names a file and as a
// hex fingerprint otherwise.
func resolveFingerprint(cmd *cobra.Command, p *pipeline.Pipeline, arg string) (fingerprint.Fingerprint, error) {
	if !util.FileExists(arg) {
		if util.IsVideoFile(arg) {
			return fingerprint.Fingerprint{}, errs.Decodef("open", errs.NoFrame, os.ErrNotExist, "%s", arg)
		}
		return fingerprint.Parse(arg)
	}
	v, err := p.Compute(cmd.Context(), arg)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return v.Fingerprint()
}
