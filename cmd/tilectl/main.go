// Command tilectl inspects a tileview cache directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tileview/internal/config"
)

var subcommands []*cobra.Command

type globalFlags struct {
	cacheDir   string
	sourcesDir string
}

var flags globalFlags

func (f *globalFlags) register(fs *pflag.FlagSet) {
	cfg := config.Load()
	fs.StringVar(&f.cacheDir, "cache-dir", cfg.CacheDir, "tileview cache `directory`")
	fs.StringVar(&f.sourcesDir, "sources-dir", cfg.SourcesDir, "`directory` of source definitions")
}

func main() {
	argparser := newRootCommand()
	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	argparser := &cobra.Command{
		Use:   "tilectl SUBCOMMAND",
		Short: "Inspect a tileview tile cache",

		Args: cobra.NoArgs,

		SilenceErrors: true, // main() reports the error
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	flags.register(argparser.PersistentFlags())
	for _, cmd := range subcommands {
		argparser.AddCommand(cmd)
	}
	return argparser
}
