package main

import (
	"context"
	"io"

	"github.com/kasuganosora/geoaccess/pkg/config"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/spf13/cobra"
)

// rootOptions 全局参数，由 PersistentPreRunE 解析
type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log logger.Logger
}

// NewRootCommand 创建根命令
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	rc := &cobra.Command{
		Use:   "geoaccess",
		Short: "Uniform access to spatial data sources.",
		Long: `geoaccess opens the data sources listed in its configuration file
(memory, Badger, CSV, Excel, Parquet, PostGIS, MySQL, SQLite, WMS and WCS)
and exposes their datasets through one interface.

Without --config the file is looked up from $GEOACCESS_CONFIG,
./geoaccess.toml, ./geoaccess.json and /etc/geoaccess/geoaccess.toml.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	rc.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file to read from.")
	rc.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error).")

	rc.AddCommand(newDriversCommand(opts, stdout))
	rc.AddCommand(newDataSourcesCommand(opts, stdout))
	rc.AddCommand(newDataSetsCommand(opts, stdout))
	rc.AddCommand(newDescribeCommand(opts, stdout))
	rc.AddCommand(newQueryCommand(opts, stdout))
	rc.AddCommand(newFilterCommand(opts, stdout))
	rc.AddCommand(newExtentCommand(opts, stdout))
	rc.AddCommand(newGenerateConfigCommand(stdout))
	rc.AddCommand(newServeCommand(opts))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func (o *rootOptions) load() error {
	var cfg *config.Config
	if o.configPath != "" {
		c, err := config.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
		cfg = c
	} else {
		cfg = config.LoadConfigOrDefault()
	}
	if o.logLevel != "" {
		if _, err := logger.ParseLevel(o.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = o.logLevel
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	o.cfg = cfg
	o.log = log
	return nil
}

// open 打开配置中的全部数据源
func (o *rootOptions) open(ctx context.Context) (*env, error) {
	return newEnv(ctx, o.cfg, o.log)
}
