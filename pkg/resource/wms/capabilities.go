package wms

import (
	"strconv"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/ows"
)

// Capabilities WMS GetCapabilities 文档（1.1.1 与 1.3.0 共用）
type Capabilities struct {
	Version string `xml:"version,attr"`
	Service struct {
		Name  string `xml:"Name"`
		Title string `xml:"Title"`
	} `xml:"Service"`
	Capability struct {
		Request struct {
			GetMap struct {
				Formats []string `xml:"Format"`
			} `xml:"GetMap"`
		} `xml:"Request"`
		Layer *Layer `xml:"Layer"`
	} `xml:"Capability"`
}

// Layer 图层节点，子图层继承父图层的 CRS 与范围
type Layer struct {
	Queryable string   `xml:"queryable,attr"`
	Name      string   `xml:"Name"`
	Title     string   `xml:"Title"`
	Abstract  string   `xml:"Abstract"`
	CRS       []string `xml:"CRS"`
	SRS       []string `xml:"SRS"`

	// 1.3.0
	GeographicBBox *struct {
		West  float64 `xml:"westBoundLongitude"`
		East  float64 `xml:"eastBoundLongitude"`
		South float64 `xml:"southBoundLatitude"`
		North float64 `xml:"northBoundLatitude"`
	} `xml:"EX_GeographicBoundingBox"`
	// 1.1.1
	LatLonBBox *struct {
		MinX float64 `xml:"minx,attr"`
		MinY float64 `xml:"miny,attr"`
		MaxX float64 `xml:"maxx,attr"`
		MaxY float64 `xml:"maxy,attr"`
	} `xml:"LatLonBoundingBox"`
	BoundingBoxes []BoundingBox `xml:"BoundingBox"`

	Layers []*Layer `xml:"Layer"`
}

// BoundingBox 指定 CRS 下的范围
type BoundingBox struct {
	CRS  string  `xml:"CRS,attr"`
	SRS  string  `xml:"SRS,attr"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

func (b BoundingBox) crs() string {
	if b.CRS != "" {
		return b.CRS
	}
	return b.SRS
}

// MapLayer is a named layer after inheritance has been applied.
type MapLayer struct {
	ows.Layer
	CRS string
}

// Flatten walks the layer tree and returns every named layer. CRS lists
// and bounding boxes are inherited from ancestors when a layer does not
// declare its own.
func (c *Capabilities) Flatten(version string) []*MapLayer {
	var out []*MapLayer
	if c.Capability.Layer != nil {
		flatten(c.Capability.Layer, nil, nil, version, &out)
	}
	return out
}

func flatten(l *Layer, crs []string, boxes []BoundingBox, version string, out *[]*MapLayer) {
	own := append(append([]string{}, l.CRS...), l.SRS...)
	if len(own) > 0 {
		crs = append(append([]string{}, crs...), own...)
	}
	if len(l.BoundingBoxes) > 0 {
		boxes = l.BoundingBoxes
	} else if geo, ok := l.geographicBox(); ok {
		boxes = []BoundingBox{geo}
	}

	if name := strings.TrimSpace(l.Name); name != "" {
		ml := &MapLayer{Layer: ows.Layer{Name: name, Title: strings.TrimSpace(l.Title)}}
		if b, ok := pickBox(boxes); ok {
			ml.CRS = b.crs()
			ml.SRID = ows.ParseSRID(ml.CRS)
			ml.Envelope = boxEnvelope(b, version)
		} else if len(crs) > 0 {
			ml.CRS = crs[0]
			ml.SRID = ows.ParseSRID(ml.CRS)
			ml.Envelope = geometry.EmptyEnvelope()
		} else {
			ml.Envelope = geometry.EmptyEnvelope()
		}
		*out = append(*out, ml)
	}
	for _, child := range l.Layers {
		flatten(child, crs, boxes, version, out)
	}
}

// geographicBox converts the lon/lat box into a CRS:84 bounding box.
func (l *Layer) geographicBox() (BoundingBox, bool) {
	switch {
	case l.GeographicBBox != nil:
		g := l.GeographicBBox
		return BoundingBox{CRS: "CRS:84", MinX: g.West, MinY: g.South, MaxX: g.East, MaxY: g.North}, true
	case l.LatLonBBox != nil:
		g := l.LatLonBBox
		return BoundingBox{SRS: "EPSG:4326", MinX: g.MinX, MinY: g.MinY, MaxX: g.MaxX, MaxY: g.MaxY}, true
	}
	return BoundingBox{}, false
}

// pickBox prefers a box whose CRS has an EPSG code.
func pickBox(boxes []BoundingBox) (BoundingBox, bool) {
	for _, b := range boxes {
		if ows.ParseSRID(b.crs()) > 0 {
			return b, true
		}
	}
	if len(boxes) > 0 {
		return boxes[0], true
	}
	return BoundingBox{}, false
}

// boxEnvelope returns the box in x/y order. WMS 1.3.0 writes EPSG:4326
// boxes in lat/lon order.
func boxEnvelope(b BoundingBox, version string) geometry.Envelope {
	if swapsAxes(version, b.crs()) {
		return geometry.NewEnvelope(b.MinY, b.MinX, b.MaxY, b.MaxX)
	}
	return geometry.NewEnvelope(b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// swapsAxes reports whether the CRS uses lat/lon axis order under version.
func swapsAxes(version, crs string) bool {
	return strings.HasPrefix(version, "1.3") && strings.EqualFold(strings.TrimSpace(crs), "EPSG:4326")
}

// bboxParam renders env for a GetMap request in the axis order of crs.
func bboxParam(env geometry.Envelope, version, crs string) string {
	if swapsAxes(version, crs) {
		env = geometry.NewEnvelope(env.MinY, env.MinX, env.MaxY, env.MaxX)
	}
	return env.BBox()
}

// imageSize fits the envelope aspect into width; height is derived when
// not set.
func imageSize(env geometry.Envelope, width, height int) (int, int) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height > 0 {
		return width, height
	}
	if env.Width() <= 0 || env.Height() <= 0 {
		return width, width
	}
	h := int(float64(width)*env.Height()/env.Width() + 0.5)
	if h < 1 {
		h = 1
	}
	return width, h
}

func itoa(n int) string { return strconv.Itoa(n) }
