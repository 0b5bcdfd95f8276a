package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tileview/internal/config"
	"tileview/internal/sources"
	"tileview/internal/tile"
)

func init() {
	var ext string
	var mult uint8
	cmd := &cobra.Command{
		Use:   "path SLUG Z X Y",
		Short: "Print where a tile lives in the disk cache",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := tileRequest(args, ext, mult)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.Source.CachePath(tileRoot(), req))
			return nil
		},
	}
	cmd.Flags().StringVar(&ext, "ext", "png", "file extension to assume when SLUG has no source definition")
	cmd.Flags().Uint8Var(&mult, "mult", 1, "high-dpi multiplier")
	subcommands = append(subcommands, cmd)
}

func tileRoot() string {
	cfg := config.Config{CacheDir: flags.cacheDir}
	return cfg.TilesDir()
}

// tileRequest resolves SLUG against the sources directory, falling back to
// a bare source whose extension is ext.
func tileRequest(args []string, ext string, mult uint8) (tile.Request, error) {
	z, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return tile.Request{}, fmt.Errorf("invalid zoom %q", args[1])
	}
	x, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return tile.Request{}, fmt.Errorf("invalid x %q", args[2])
	}
	y, err := strconv.ParseUint(args[3], 10, 32)
	if err != nil {
		return tile.Request{}, fmt.Errorf("invalid y %q", args[3])
	}

	catalog := sources.New(flags.sourcesDir, zap.NewNop())
	if err := catalog.Scan(); err != nil {
		return tile.Request{}, err
	}
	src := catalog.GetSource(args[0])
	if src == nil {
		src = &tile.Source{Slug: args[0], URLTemplates: []string{"/${z}/${x}/${y}." + ext}}
		if err := src.Validate(); err != nil {
			return tile.Request{}, err
		}
	}
	return tile.NewRequest(src, uint8(z), uint32(x), uint32(y), mult, 0, 0), nil
}
