package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/kasuganosora/geoaccess/pkg/config"
	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource"
	mcpserver "github.com/kasuganosora/geoaccess/server/mcp"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withEnv 打开数据源，执行 fn 后关闭
func (o *rootOptions) withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := commandContext(cmd)
	e, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)
	return fn(ctx, e)
}

func newDriversCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the built-in data source drivers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(resource.Factories()))
			for _, f := range resource.Factories() {
				names = append(names, string(f.GetType()))
			}
			sort.Strings(names)
			rows := make([][]string, len(names))
			for i, n := range names {
				rows[i] = []string{n}
			}
			writeTable(stdout, []string{"driver"}, rows)
			return nil
		},
	}
}

func newDataSourcesCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "datasources",
		Short: "Open the configured data sources and report their state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				titles := make(map[string]string, len(e.cfg.DataSources))
				for _, d := range e.cfg.DataSources {
					titles[d.ID] = d.Title
				}
				defaultID := e.manager.GetDefaultID()
				var rows [][]string
				for _, id := range e.manager.List() {
					ds, ok := e.manager.Find(id)
					if !ok {
						continue
					}
					rows = append(rows, []string{
						id,
						string(ds.Type()),
						strconv.FormatBool(ds.IsOpened()),
						strconv.FormatBool(id == defaultID),
						titles[id],
					})
				}
				writeTable(stdout, []string{"id", "type", "opened", "default", "title"}, rows)
				return nil
			})
		},
	}
}

func newDataSetsCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List the datasets of every configured data source.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				ids := e.manager.List()
				if only != "" {
					ids = []string{only}
				}
				var rows [][]string
				for _, id := range ids {
					ds, err := dataaccess.GetDataSource(ctx, e.manager, id, true)
					if err != nil {
						return err
					}
					t, err := ds.Transactor(ctx)
					if err != nil {
						return err
					}
					names, err := dataaccess.GetDataSets(ctx, t)
					t.Close(ctx)
					if err != nil {
						return fmt.Errorf("list datasets of %s: %w", id, err)
					}
					for _, n := range names {
						rows = append(rows, []string{n, id})
					}
				}
				writeTable(stdout, []string{"dataset", "datasource"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&only, "datasource", "d", "", "Only list this data source.")
	return cmd
}

func newDescribeCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <dataset>",
		Short: "Show the properties, keys and indexes of a dataset.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				dt, err := e.service.Describe(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(dt.Properties))
				for _, p := range dt.Properties {
					var geomType, srid string
					if p.IsGeometry() {
						geomType = p.GeometryType
						srid = strconv.Itoa(p.SRID)
					}
					rows = append(rows, []string{p.Name, p.Type.String(), strconv.FormatBool(p.Nullable), geomType, srid})
				}
				writeTable(stdout, []string{"property", "type", "nullable", "geometry", "srid"}, rows)

				if dt.PrimaryKey != nil {
					fmt.Fprintf(stdout, "primary key: %s (%s)\n", dt.PrimaryKey.Name, strings.Join(dt.PrimaryKey.Properties, ", "))
				}
				for _, idx := range dt.Indexes {
					fmt.Fprintf(stdout, "index: %s %s (%s)\n", idx.Name, idx.Type, strings.Join(idx.Properties, ", "))
				}
				if dt.DefaultGeometry != "" {
					fmt.Fprintf(stdout, "default geometry: %s\n", dt.DefaultGeometry)
				}
				return nil
			})
		},
	}
}

func newQueryCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query <select>",
		Short: "Run a SELECT against the data source owning its dataset.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				res, err := e.service.Query(ctx, args[0], limit)
				if err != nil {
					return err
				}
				writeResult(stdout, res)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", mcpserver.DefaultLimit, "Maximum rows to print, 0 for all.")
	return cmd
}

func newFilterCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var (
		bbox     string
		relation string
		property string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "filter <dataset>",
		Short: "Print the rows whose geometry relates to a bounding box.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := geometry.ParseBBox(bbox)
			if err != nil {
				return err
			}
			rel, err := geometry.ParseSpatialRelation(relation)
			if err != nil {
				return err
			}
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				res, err := e.service.Filter(ctx, args[0], property, box, rel, limit)
				if err != nil {
					return err
				}
				writeResult(stdout, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "Bounding box as minx,miny,maxx,maxy.")
	cmd.Flags().StringVar(&relation, "relation", "INTERSECTS", "Spatial relation.")
	cmd.Flags().StringVar(&property, "property", "", "Geometry property, the default geometry when empty.")
	cmd.Flags().IntVarP(&limit, "limit", "n", mcpserver.DefaultLimit, "Maximum rows to print, 0 for all.")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func newExtentCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var property string
	cmd := &cobra.Command{
		Use:   "extent <dataset>",
		Short: "Print the bounding box of a geometry or raster property.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEnv(cmd, func(ctx context.Context, e *env) error {
				extent, err := e.service.Extent(ctx, args[0], property)
				if err != nil {
					return err
				}
				if !extent.IsValid() {
					fmt.Fprintln(stdout, "empty")
					return nil
				}
				fmt.Fprintln(stdout, extent.BBox())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&property, "property", "", "Property name, the default geometry when empty.")
	return cmd
}

func newGenerateConfigCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Print the default configuration.",
		Long: `generate-config prints the default configuration to stdout
`,
		Args: cobra.NoArgs,
		// 不需要读取已有配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := toml.Marshal(*config.DefaultConfig())
			if err != nil {
				return err
			}
			_, err = stdout.Write(data)
			return err
		},
	}
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		transport string
		host      string
		port      int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured data sources as MCP tools.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srvCfg := opts.cfg.Server
			if cmd.Flags().Changed("transport") {
				srvCfg.Transport = transport
			}
			if cmd.Flags().Changed("host") {
				srvCfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				srvCfg.Port = port
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close(context.Background())

			var metricsPath string
			if opts.cfg.Metrics.Enabled {
				metricsPath = opts.cfg.Metrics.Path
			}
			srv := mcpserver.NewServer(srvCfg, metricsPath, &mcpserver.ToolDeps{
				Manager: e.manager,
				Service: e.service,
				Monitor: e.monitor,
				Log:     e.log,
			})
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "stdio or http, overrides the configuration.")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host, overrides the configuration.")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP listen port, overrides the configuration.")
	return cmd
}
