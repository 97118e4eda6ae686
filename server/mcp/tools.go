package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/monitor"
	"github.com/kasuganosora/geoaccess/pkg/resource/application"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultLimit caps rows returned by query and filter when no limit is given.
const DefaultLimit = 100

// ToolDeps holds shared dependencies for MCP tool handlers
type ToolDeps struct {
	Manager *application.DataSourceManager
	Service *dataaccess.DataService
	// Monitor is optional; the metrics tool reports an error without it.
	Monitor *monitor.Monitor
	Log     logger.Logger
}

func (d *ToolDeps) logToolCall(tool string, args map[string]interface{}, start time.Time, err error) {
	if d.Log == nil {
		return
	}
	if err != nil {
		d.Log.Warn("mcp tool %s %v failed after %v: %v", tool, args, time.Since(start), err)
		return
	}
	d.Log.Debug("mcp tool %s %v done in %v", tool, args, time.Since(start))
}

// HandleListDrivers lists the registered driver types
func (d *ToolDeps) HandleListDrivers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types := d.Manager.GetRegistry().List()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Drivers:\n")
	for _, n := range names {
		sb.WriteString("- " + n + "\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListDataSources lists the configured data sources
func (d *ToolDeps) HandleListDataSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defaultID := d.Manager.GetDefaultID()

	var sb strings.Builder
	sb.WriteString("id\ttype\topened\tdefault\n")
	for _, id := range d.Manager.List() {
		ds, ok := d.Manager.Find(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%s\t%s\t%t\t%t\n", id, ds.Type(), ds.IsOpened(), id == defaultID)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListDataSets lists the datasets of one data source
func (d *ToolDeps) HandleListDataSets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("datasource", "")
	args := map[string]interface{}{"datasource": id}
	start := time.Now()

	var (
		ds  domain.DataSource
		err error
	)
	if id == "" {
		id = d.Manager.GetDefaultID()
	}
	if id == "" {
		ds, err = d.Manager.GetDefault()
	} else {
		ds, err = dataaccess.GetDataSource(ctx, d.Manager, id, true)
	}
	if err != nil {
		d.logToolCall("list_datasets", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("data source not available: %v", err)), nil
	}

	t, err := ds.Transactor(ctx)
	if err != nil {
		d.logToolCall("list_datasets", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to open session: %v", err)), nil
	}
	defer t.Close(ctx)

	names, err := dataaccess.GetDataSets(ctx, t)
	if err != nil {
		d.logToolCall("list_datasets", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list datasets: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Datasets in %s:\n", id)
	for _, n := range names {
		sb.WriteString("- " + n + "\n")
	}
	d.logToolCall("list_datasets", args, start, nil)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDescribeDataSet returns the full dataset type
func (d *ToolDeps) HandleDescribeDataSet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("dataset", "")
	if name == "" {
		return mcp.NewToolResultError("dataset parameter is required"), nil
	}
	args := map[string]interface{}{"dataset": name}
	start := time.Now()

	dt, err := d.Service.Describe(ctx, name)
	if err != nil {
		d.logToolCall("describe_dataset", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to describe dataset: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset: %s\n\n", dt.Name)
	sb.WriteString("name\ttype\tnullable\tgeometry\n")
	for _, p := range dt.Properties {
		geomInfo := ""
		if p.IsGeometry() {
			geomInfo = fmt.Sprintf("%s SRID=%d", p.GeometryType, p.SRID)
		}
		fmt.Fprintf(&sb, "%s\t%s\t%t\t%s\n", p.Name, p.Type, p.Nullable, geomInfo)
	}
	if dt.PrimaryKey != nil {
		fmt.Fprintf(&sb, "\nPrimary key: %s (%s)\n", dt.PrimaryKey.Name, strings.Join(dt.PrimaryKey.Properties, ", "))
	}
	for _, idx := range dt.Indexes {
		fmt.Fprintf(&sb, "Index: %s %s (%s)\n", idx.Name, idx.Type, strings.Join(idx.Properties, ", "))
	}
	if dt.DefaultGeometry != "" {
		fmt.Fprintf(&sb, "Default geometry: %s\n", dt.DefaultGeometry)
	}

	d.logToolCall("describe_dataset", args, start, nil)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleQuery runs a native query string against the dataset it names
func (d *ToolDeps) HandleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := request.GetString("query", "")
	if q == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	limit := request.GetInt("limit", DefaultLimit)
	args := map[string]interface{}{"query": q, "limit": limit}
	start := time.Now()

	res, err := d.Service.Query(ctx, q, limit)
	if err != nil {
		d.logToolCall("query", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	d.logToolCall("query", args, start, nil)
	return mcp.NewToolResultText(formatResult(res)), nil
}

// HandleFilter returns the rows of a dataset matching a bounding box
func (d *ToolDeps) HandleFilter(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("dataset", "")
	if name == "" {
		return mcp.NewToolResultError("dataset parameter is required"), nil
	}
	env, err := geometry.ParseBBox(request.GetString("bbox", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := geometry.ParseSpatialRelation(request.GetString("relation", "INTERSECTS"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	property := request.GetString("property", "")
	limit := request.GetInt("limit", DefaultLimit)
	args := map[string]interface{}{"dataset": name, "bbox": env.BBox(), "relation": rel.String()}
	start := time.Now()

	res, err := d.Service.Filter(ctx, name, property, env, rel, limit)
	if err != nil {
		d.logToolCall("filter", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("filter failed: %v", err)), nil
	}
	d.logToolCall("filter", args, start, nil)
	return mcp.NewToolResultText(formatResult(res)), nil
}

// HandleExtent returns the bounding box of a geometry property
func (d *ToolDeps) HandleExtent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("dataset", "")
	if name == "" {
		return mcp.NewToolResultError("dataset parameter is required"), nil
	}
	property := request.GetString("property", "")
	args := map[string]interface{}{"dataset": name, "property": property}
	start := time.Now()

	env, err := d.Service.Extent(ctx, name, property)
	if err != nil {
		d.logToolCall("extent", args, start, err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute extent: %v", err)), nil
	}
	d.logToolCall("extent", args, start, nil)
	if !env.IsValid() {
		return mcp.NewToolResultText(fmt.Sprintf("Extent of %s: empty", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Extent of %s: %s", name, env.BBox())), nil
}

// HandleMetrics reports the operation counters and recent slow operations
func (d *ToolDeps) HandleMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if d.Monitor == nil {
		return mcp.NewToolResultError("metrics are disabled"), nil
	}
	out := struct {
		Metrics         *monitor.Metrics         `json:"metrics"`
		Slow            []*monitor.SlowOperation `json:"slow"`
		Recommendations []string                 `json:"recommendations,omitempty"`
	}{
		Metrics:         d.Monitor.Metrics.GetSnapshot(),
		Slow:            d.Monitor.Slow.Recent(request.GetInt("slow", 10)),
		Recommendations: d.Monitor.Slow.Recommendations(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func formatResult(res *dataaccess.Result) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(res.Columns(), "\t"))
	sb.WriteString("\n")
	for i := range res.Rows {
		sb.WriteString(strings.Join(res.Values(i), "\t"))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n(%d rows)", len(res.Rows))
	return sb.String()
}
