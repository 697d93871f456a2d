package cli

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"themerizr/internal/config"
)

const (
	AppName        = "themerizr"
	appDescription = "Converts a directory of SVG icons into PNGs and writes a Structurizr theme.json for them."
)

// options collects flag values; only flags the user set override the config file.
type options struct {
	configPath string
	verbose    bool
	quiet      bool
	flags      config.Config
}

// NewRootCommand builds the command tree. Running the root command with
// SOURCE and TARGET arguments behaves like "convert".
func NewRootCommand() *cobra.Command {
	opts := &options{flags: *config.Default()}

	root := &cobra.Command{
		Use:           AppName + " SOURCE TARGET --prefix PREFIX",
		Short:         appDescription,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Read settings from a .toml, .yaml or .json file.")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug details.")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only log warnings and errors.")
	addConvertFlags(root.Flags(), opts)

	root.AddCommand(newConvertCommand(opts), newServeCommand(opts))
	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}

func addConvertFlags(fs *pflag.FlagSet, opts *options) {
	fs.IntVar(&opts.flags.Height, "height", config.DefaultHeight, "Maximum height of the PNG images.")
	fs.IntVar(&opts.flags.Width, "width", config.DefaultWidth, "Maximum width of the PNG images.")
	fs.StringVar(&opts.flags.Prefix, "prefix", "", "Prefix for the tags in theme.json.")
	fs.IntVar(&opts.flags.Workers, "workers", config.DefaultWorkers(), "Number of concurrent conversions.")
	fs.BoolVar(&opts.flags.Stable, "stable", false, "Sort theme elements by filename within each group.")
	fs.BoolVar(&opts.flags.Strict, "strict", false, "Fail conversions of SVGs using unsupported features.")
	fs.StringVar(&opts.flags.Name, "name", opts.flags.Name, "Theme name.")
	fs.StringVar(&opts.flags.Description, "description", opts.flags.Description, "Theme description.")
	fs.StringVar(&opts.flags.Report, "report", "", "Write a per-file report (.csv, .xlsx or .json).")
}

// resolve merges defaults, the config file, positional arguments and the
// flags that were set explicitly, in that order of precedence.
func (o *options) resolve(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		if err := config.Load(o.configPath, cfg); err != nil {
			return nil, err
		}
	}
	if len(args) > 0 {
		cfg.Source = args[0]
	}
	if len(args) > 1 {
		cfg.Target = args[1]
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "height":
			cfg.Height = o.flags.Height
		case "width":
			cfg.Width = o.flags.Width
		case "prefix":
			cfg.Prefix = o.flags.Prefix
		case "workers":
			cfg.Workers = o.flags.Workers
		case "stable":
			cfg.Stable = o.flags.Stable
		case "strict":
			cfg.Strict = o.flags.Strict
		case "name":
			cfg.Name = o.flags.Name
		case "description":
			cfg.Description = o.flags.Description
		case "report":
			cfg.Report = o.flags.Report
		case "addr":
			cfg.Addr = o.flags.Addr
		case "watch":
			cfg.Watch = o.flags.Watch
		case "tls":
			cfg.TLS = o.flags.TLS
		case "cert-dir":
			cfg.CertDir = o.flags.CertDir
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) logger(cmd *cobra.Command) *log.Logger {
	logger := log.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	switch {
	case o.verbose:
		logger.SetLevel(log.DebugLevel)
	case o.quiet:
		logger.SetLevel(log.WarnLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
