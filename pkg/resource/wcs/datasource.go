package wcs

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/ows"
)

// DefaultFormat is requested when neither FORMAT nor the coverage's native
// format is known.
const DefaultFormat = "image/tiff"

// WCSCapabilities 只读栅格，SUBSET 下推
func WCSCapabilities() domain.Capabilities {
	return domain.Capabilities{
		SpatialPushdown: true,
		RandomAccess:    true,
		Raster:          true,
		ReadOnly:        true,
	}
}

// Source WCS 数据源，每个 coverage 对应一个数据集
type Source struct {
	*domain.BaseDataSource
	log logger.Logger

	mu        sync.RWMutex
	client    *ows.Client
	format    string
	title     string
	coverages map[string]*Coverage
}

// NewSource 创建 WCS 数据源
func NewSource(info domain.ConnectionInfo) *Source {
	return &Source{
		BaseDataSource: domain.NewBaseDataSource(domain.DataSourceTypeWCS, info, WCSCapabilities()),
		log:            logger.Named("wcs"),
	}
}

// Open 校验 URI 与 VERSION 后，有 COVERAGE_NAME 时请求 DescribeCoverage，否则请求 GetCapabilities
func (s *Source) Open(ctx context.Context) error {
	if s.IsOpened() {
		return nil
	}
	info := s.ConnectionInfo()
	client, err := s.newClient(info)
	if err != nil {
		return err
	}

	var (
		coverages []*Coverage
		title     string
	)
	if name := strings.TrimSpace(info.Get(domain.InfoCoverageName)); name != "" {
		c, err := describe(ctx, client, name)
		if err != nil {
			return domain.NewErrConnection(s.Type(), "DescribeCoverage", err)
		}
		coverages = []*Coverage{c}
	} else {
		caps, err := fetchCapabilities(ctx, client)
		if err != nil {
			return domain.NewErrConnection(s.Type(), "GetCapabilities", err)
		}
		title = caps.Title
		for _, sum := range caps.Summaries {
			c, err := summaryLayer(sum)
			if err != nil {
				return domain.NewErrConnection(s.Type(), "GetCapabilities", err)
			}
			if c.Name != "" {
				coverages = append(coverages, c)
			}
		}
	}

	s.mu.Lock()
	s.client = client
	s.format = info.Get(domain.InfoFormat)
	s.title = title
	s.coverages = make(map[string]*Coverage, len(coverages))
	for _, c := range coverages {
		s.coverages[c.Name] = c
	}
	s.mu.Unlock()

	cat := s.Catalog()
	cat.Clear()
	for _, l := range s.Layers() {
		cat.Put(l.DataSetType())
	}
	s.SetOpened(true)
	s.log.Info("wcs %s opened: version %s, %d coverages", client.Config().Endpoint.Host, client.Config().Version, len(coverages))
	return nil
}

// newClient requires URI and VERSION; no request is made.
func (s *Source) newClient(info domain.ConnectionInfo) (*ows.Client, error) {
	cfg, err := ows.ParseConfig(s.Type(), info, "")
	if err != nil {
		return nil, err
	}
	client, err := ows.NewClient(cfg, s.log)
	if err != nil {
		return nil, domain.NewErrConnection(s.Type(), "http client", err)
	}
	return client, nil
}

func fetchCapabilities(ctx context.Context, client *ows.Client) (*Capabilities, error) {
	params := url.Values{
		"SERVICE": {"WCS"},
		"REQUEST": {"GetCapabilities"},
		"VERSION": {client.Config().Version},
	}
	var caps Capabilities
	if err := client.GetXML(ctx, params, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

func describe(ctx context.Context, client *ows.Client, name string) (*Coverage, error) {
	params := url.Values{
		"SERVICE":    {"WCS"},
		"REQUEST":    {"DescribeCoverage"},
		"VERSION":    {client.Config().Version},
		"COVERAGEID": {name},
	}
	var descs CoverageDescriptions
	if err := client.GetXML(ctx, params, &descs); err != nil {
		return nil, err
	}
	for _, d := range descs.Descriptions {
		if strings.TrimSpace(d.CoverageID) == name {
			return coverageOf(d)
		}
	}
	return nil, fmt.Errorf("coverage %s not described by the service", name)
}

// described returns the coverage with its description loaded, fetching it
// once per source.
func (s *Source) described(ctx context.Context, name string) (*Coverage, *ows.Client, error) {
	s.mu.RLock()
	client := s.client
	c, ok := s.coverages[name]
	s.mu.RUnlock()
	if client == nil {
		return nil, nil, domain.NewErrNotOpen(s.Type())
	}
	if !ok {
		return nil, nil, domain.NewErrDataSetNotFound(name)
	}
	if c.described {
		return c, client, nil
	}

	d, err := describe(ctx, client, name)
	if err != nil {
		return nil, nil, err
	}
	if d.Title == "" {
		d.Title = c.Title
	}
	s.mu.Lock()
	if s.coverages != nil {
		s.coverages[name] = d
	}
	s.mu.Unlock()
	s.Catalog().Put(d.DataSetType())
	return d, client, nil
}

func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	s.client = nil
	s.coverages = nil
	s.mu.Unlock()
	s.Catalog().Clear()
	s.SetOpened(false)
	return nil
}

// IsValid 重新请求能力文档
func (s *Source) IsValid(ctx context.Context) bool {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil || !s.IsOpened() {
		return false
	}
	_, err := fetchCapabilities(ctx, client)
	return err == nil
}

// Title returns the service title; empty when opened on a single coverage.
func (s *Source) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

func (s *Source) Transactor(ctx context.Context) (domain.Transactor, error) {
	if err := s.CheckOpen(); err != nil {
		return nil, err
	}
	return ows.NewTransactor(s), nil
}

// Exists 探测服务，给定 COVERAGE_NAME 时还要求该 coverage 存在
func (s *Source) Exists(ctx context.Context, info domain.ConnectionInfo) (bool, error) {
	client, err := s.newClient(info)
	if err != nil {
		return false, err
	}
	caps, err := fetchCapabilities(ctx, client)
	if err != nil {
		s.log.Debug("wcs capabilities check %s: %v", client.Config().Endpoint.Host, err)
		return false, nil
	}
	name := strings.TrimSpace(info.Get(domain.InfoCoverageName))
	if name == "" {
		return true, nil
	}
	for _, sum := range caps.Summaries {
		if strings.TrimSpace(sum.CoverageID) == name {
			return true, nil
		}
	}
	return false, nil
}

// ==================== ows.Service ====================

func (s *Source) Layers() []*ows.Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.coverages))
	for name := range s.coverages {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*ows.Layer, 0, len(names))
	for _, name := range names {
		out = append(out, &s.coverages[name].Layer)
	}
	return out
}

func (s *Source) Layer(name string) (*ows.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coverages[name]
	if !ok {
		return nil, false
	}
	return &c.Layer, true
}

// Fetch 发送 GetCoverage。请求范围等于图层范围时取整个 coverage，否则按轴 SUBSET
func (s *Source) Fetch(ctx context.Context, l *ows.Layer, env geometry.Envelope) (*domain.Raster, error) {
	full := env == l.Envelope
	c, client, err := s.described(ctx, l.Name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	format := s.format
	s.mu.RUnlock()
	if format == "" {
		format = c.Format
	}
	if format == "" {
		format = DefaultFormat
	}

	params := url.Values{
		"SERVICE":    {"WCS"},
		"REQUEST":    {"GetCoverage"},
		"VERSION":    {client.Config().Version},
		"COVERAGEID": {c.Name},
		"FORMAT":     {format},
	}
	width, height := c.Width, c.Height
	if full || env == c.Envelope {
		env = c.Envelope
	} else {
		if c.XAxis == "" || c.YAxis == "" {
			return nil, fmt.Errorf("coverage %s has no axis labels to subset on", c.Name)
		}
		params["SUBSET"] = []string{
			fmt.Sprintf("%s(%s,%s)", c.XAxis, formatFloat(env.MinX), formatFloat(env.MaxX)),
			fmt.Sprintf("%s(%s,%s)", c.YAxis, formatFloat(env.MinY), formatFloat(env.MaxY)),
		}
		width, height = c.subsetSize(env)
	}

	s.log.Debug("GetCoverage %s bbox=%s format=%s", c.Name, env.BBox(), format)
	resp, err := client.Get(ctx, params)
	if err != nil {
		return nil, err
	}
	ct := resp.ContentType
	if ct == "" {
		ct = format
	}
	return &domain.Raster{
		Format:   ct,
		Envelope: env,
		SRID:     c.SRID,
		Width:    width,
		Height:   height,
		Data:     resp.Body,
	}, nil
}

var _ ows.Service = (*Source)(nil)

// Factory WCS 数据源工厂
type Factory struct{}

// NewFactory 创建 WCS 数据源工厂
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeWCS
}

func (f *Factory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewSource(info), nil
}
