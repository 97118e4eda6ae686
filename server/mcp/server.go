package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/config"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// Server is the MCP protocol server
type Server struct {
	cfg         config.ServerConfig
	metricsPath string
	deps        *ToolDeps
	mcp         *mcpserver.MCPServer
}

// NewServer creates a new MCP server. metricsPath is mounted next to the MCP
// endpoint on the HTTP transport when deps carries a monitor.
func NewServer(cfg config.ServerConfig, metricsPath string, deps *ToolDeps) *Server {
	s := &Server{cfg: cfg, metricsPath: metricsPath, deps: deps}
	s.mcp = s.build()
	return s
}

// MCPServer returns the underlying tool server
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcp }

func (s *Server) build() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		s.cfg.Name,
		s.cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	d := s.deps

	srv.AddTool(mcp.NewTool("list_drivers",
		mcp.WithDescription("List the registered data source driver types"),
	), d.HandleListDrivers)

	srv.AddTool(mcp.NewTool("list_datasources",
		mcp.WithDescription("List the configured data sources with their driver type and state"),
	), d.HandleListDataSources)

	srv.AddTool(mcp.NewTool("list_datasets",
		mcp.WithDescription("List the datasets (tables, layers, coverages, sheets) of a data source"),
		mcp.WithString("datasource", mcp.Description("Data source id (optional, uses the default if not specified)")),
	), d.HandleListDataSets)

	srv.AddTool(mcp.NewTool("describe_dataset",
		mcp.WithDescription("Get the full type of a dataset: properties, geometry subtype and SRID, keys and indexes"),
		mcp.WithString("dataset", mcp.Description("The dataset name"), mcp.Required()),
	), d.HandleDescribeDataSet)

	srv.AddTool(mcp.NewTool("query",
		mcp.WithDescription("Run a native SELECT against one dataset. Spatial predicates such as ST_Intersects(geom, ST_GeomFromText('POLYGON(...)')) are pushed down when the driver supports it."),
		mcp.WithString("query", mcp.Description("The SELECT statement"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 100, 0 for no limit)")),
	), d.HandleQuery)

	srv.AddTool(mcp.NewTool("filter",
		mcp.WithDescription("Return the rows of a dataset whose geometry satisfies a spatial relation with a bounding box"),
		mcp.WithString("dataset", mcp.Description("The dataset name"), mcp.Required()),
		mcp.WithString("bbox", mcp.Description("minx,miny,maxx,maxy"), mcp.Required()),
		mcp.WithString("relation", mcp.Description("Spatial relation (default INTERSECTS)")),
		mcp.WithString("property", mcp.Description("Geometry property (optional, uses the default geometry)")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 100)")),
	), d.HandleFilter)

	srv.AddTool(mcp.NewTool("extent",
		mcp.WithDescription("Compute the bounding box of a geometry or raster property"),
		mcp.WithString("dataset", mcp.Description("The dataset name"), mcp.Required()),
		mcp.WithString("property", mcp.Description("Property name (optional, uses the default geometry)")),
	), d.HandleExtent)

	srv.AddTool(mcp.NewTool("metrics",
		mcp.WithDescription("Report operation counters, recent slow operations and tuning hints"),
		mcp.WithNumber("slow", mcp.Description("How many recent slow operations to include (default 10)")),
	), d.HandleMetrics)

	return srv
}

// Handler returns the HTTP handler serving the MCP endpoint and, when
// enabled, the prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(EndpointPath, mcpserver.NewStreamableHTTPServer(s.mcp, mcpserver.WithEndpointPath(EndpointPath)))
	if s.deps.Monitor != nil && s.metricsPath != "" {
		mux.Handle(s.metricsPath, s.deps.Monitor.Metrics.Handler())
	}
	return mux
}

// Start runs the server on the configured transport until ctx is done or
// the transport fails.
func (s *Server) Start(ctx context.Context) error {
	switch s.cfg.Transport {
	case "", "stdio":
		s.logInfo("启动 MCP 服务器: stdio")
		return mcpserver.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	case "http":
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		httpSrv := &http.Server{Addr: addr, Handler: s.Handler()}
		errc := make(chan error, 1)
		go func() { errc <- httpSrv.ListenAndServe() }()
		s.logInfo("启动 MCP 服务器: http://%s%s", addr, EndpointPath)

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("unknown transport %q", s.cfg.Transport)
}

func (s *Server) logInfo(format string, args ...interface{}) {
	if s.deps.Log != nil {
		s.deps.Log.Info(format, args...)
	}
}
