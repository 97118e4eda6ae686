package wcs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/ows"
)

// Capabilities WCS 2.0 GetCapabilities 文档
type Capabilities struct {
	Version   string            `xml:"version,attr"`
	Title     string            `xml:"ServiceIdentification>Title"`
	Formats   []string          `xml:"ServiceMetadata>formatSupported"`
	Summaries []CoverageSummary `xml:"Contents>CoverageSummary"`
}

// CoverageSummary 能力文档中的覆盖摘要
type CoverageSummary struct {
	CoverageID string  `xml:"CoverageId"`
	Title      string  `xml:"Title"`
	Subtype    string  `xml:"CoverageSubtype"`
	WGS84      *corner `xml:"WGS84BoundingBox"`
}

type corner struct {
	Lower string `xml:"LowerCorner"`
	Upper string `xml:"UpperCorner"`
}

// CoverageDescriptions DescribeCoverage 响应
type CoverageDescriptions struct {
	Descriptions []CoverageDescription `xml:"CoverageDescription"`
}

// CoverageDescription 单个覆盖的描述
type CoverageDescription struct {
	CoverageID string `xml:"CoverageId"`
	Envelope   struct {
		SRSName    string `xml:"srsName,attr"`
		AxisLabels string `xml:"axisLabels,attr"`
		Lower      string `xml:"lowerCorner"`
		Upper      string `xml:"upperCorner"`
	} `xml:"boundedBy>Envelope"`
	RectifiedGrid gridLimits `xml:"domainSet>RectifiedGrid>limits>GridEnvelope"`
	Grid          gridLimits `xml:"domainSet>Grid>limits>GridEnvelope"`
	Fields        []struct {
		Name string `xml:"name,attr"`
	} `xml:"rangeType>DataRecord>field"`
	NativeFormat string `xml:"ServiceParameters>nativeFormat"`
}

type gridLimits struct {
	Low  string `xml:"low"`
	High string `xml:"high"`
}

// Coverage is a described coverage ready for GetCoverage requests.
type Coverage struct {
	ows.Layer
	// Axis labels in x/y order, used for SUBSET.
	XAxis, YAxis string
	Width        int
	Height       int
	Format       string
	Bands        []string
	described    bool
}

func parseCorner(s string) ([]float64, error) {
	parts := strings.Fields(s)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// isNorthing reports whether an axis label names the y axis.
func isNorthing(label string) bool {
	switch strings.ToLower(label) {
	case "lat", "latitude", "y", "n", "north", "northing":
		return true
	}
	return false
}

// summaryLayer builds a coverage from a capabilities summary; the extent is
// the WGS84 box until the coverage is described.
func summaryLayer(s CoverageSummary) (*Coverage, error) {
	c := &Coverage{Layer: ows.Layer{Name: strings.TrimSpace(s.CoverageID), Title: strings.TrimSpace(s.Title)}}
	c.Envelope = geometry.EmptyEnvelope()
	if s.WGS84 != nil {
		lo, err := parseCorner(s.WGS84.Lower)
		if err != nil {
			return nil, err
		}
		hi, err := parseCorner(s.WGS84.Upper)
		if err != nil {
			return nil, err
		}
		if len(lo) >= 2 && len(hi) >= 2 {
			c.Envelope = geometry.NewEnvelope(lo[0], lo[1], hi[0], hi[1])
			c.SRID = 4326
		}
	}
	return c, nil
}

// coverageOf converts a description. Envelopes whose first axis is a
// northing are swapped into x/y order.
func coverageOf(d CoverageDescription) (*Coverage, error) {
	c := &Coverage{
		Layer:     ows.Layer{Name: strings.TrimSpace(d.CoverageID)},
		Format:    strings.TrimSpace(d.NativeFormat),
		described: true,
	}
	if c.Name == "" {
		return nil, fmt.Errorf("coverage description without CoverageId")
	}
	env := d.Envelope
	c.SRID = ows.ParseSRID(env.SRSName)

	lo, err := parseCorner(env.Lower)
	if err != nil {
		return nil, err
	}
	hi, err := parseCorner(env.Upper)
	if err != nil {
		return nil, err
	}
	if len(lo) < 2 || len(hi) < 2 {
		return nil, fmt.Errorf("coverage %s: envelope needs two dimensions", c.Name)
	}
	labels := strings.Fields(env.AxisLabels)
	for len(labels) < 2 {
		labels = append(labels, "")
	}
	xi, yi := 0, 1
	if isNorthing(labels[0]) {
		xi, yi = 1, 0
	}
	c.Envelope = geometry.NewEnvelope(lo[xi], lo[yi], hi[xi], hi[yi])
	c.XAxis, c.YAxis = labels[xi], labels[yi]

	grid := d.RectifiedGrid
	if grid.High == "" {
		grid = d.Grid
	}
	if grid.High != "" {
		glo, err := parseCorner(grid.Low)
		if err != nil {
			return nil, err
		}
		ghi, err := parseCorner(grid.High)
		if err != nil {
			return nil, err
		}
		if len(glo) >= 2 && len(ghi) >= 2 {
			c.Width = int(ghi[xi]-glo[xi]) + 1
			c.Height = int(ghi[yi]-glo[yi]) + 1
		}
	}
	for _, f := range d.Fields {
		c.Bands = append(c.Bands, f.Name)
	}
	return c, nil
}

// subsetSize scales the grid size to the requested envelope.
func (c *Coverage) subsetSize(env geometry.Envelope) (int, int) {
	if c.Width == 0 || c.Height == 0 || c.Envelope.Width() <= 0 || c.Envelope.Height() <= 0 {
		return 0, 0
	}
	clip, ok := env.Intersection(c.Envelope)
	if !ok {
		return 0, 0
	}
	w := int(float64(c.Width)*clip.Width()/c.Envelope.Width() + 0.5)
	h := int(float64(c.Height)*clip.Height()/c.Envelope.Height() + 0.5)
	return max(w, 1), max(h, 1)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
