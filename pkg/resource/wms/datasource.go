package wms

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

// 默认值
const (
	DefaultVersion = "1.3.0"
	DefaultFormat  = "image/png"
	DefaultWidth   = 512
)

// WMSCapabilities 只读栅格，空间范围下推为 GetMap 的 BBOX
func WMSCapabilities() domain.Capabilities {
	return domain.Capabilities{
		SpatialPushdown: true,
		RandomAccess:    true,
		Raster:          true,
		ReadOnly:        true,
	}
}

// Source WMS 数据源，每个命名图层对应一个数据集
type Source struct {
	*domain.BaseDataSource
	log logger.Logger

	mu     sync.RWMutex
	client *ows.Client
	format string
	width  int
	height int
	title  string
	layers map[string]*MapLayer
}

// NewSource 创建 WMS 数据源
func NewSource(info domain.ConnectionInfo) *Source {
	return &Source{
		BaseDataSource: domain.NewBaseDataSource(domain.DataSourceTypeWMS, info, WMSCapabilities()),
		log:            logger.Named("wms"),
	}
}

// Open 获取 GetCapabilities 并把图层树展开到目录
func (s *Source) Open(ctx context.Context) error {
	if s.IsOpened() {
		return nil
	}
	info := s.ConnectionInfo()
	client, err := s.newClient(info)
	if err != nil {
		return err
	}
	width, err := info.Int(ows.InfoWidth, DefaultWidth)
	if err != nil {
		return domain.NewErrConnection(s.Type(), "invalid connection parameter", err)
	}
	height, err := info.Int(ows.InfoHeight, 0)
	if err != nil {
		return domain.NewErrConnection(s.Type(), "invalid connection parameter", err)
	}

	caps, err := fetchCapabilities(ctx, client)
	if err != nil {
		return domain.NewErrConnection(s.Type(), "GetCapabilities", err)
	}

	version := client.Config().Version
	if caps.Version != "" {
		version = caps.Version
	}
	layers := make(map[string]*MapLayer)
	for _, l := range caps.Flatten(version) {
		if _, dup := layers[l.Name]; !dup {
			layers[l.Name] = l
		}
	}

	format := info.Get(domain.InfoFormat)
	if format == "" {
		format = pickFormat(caps.Capability.Request.GetMap.Formats)
	}

	s.mu.Lock()
	client.Config().Version = version
	s.client = client
	s.format = format
	s.width = width
	s.height = height
	s.title = caps.Service.Title
	s.layers = layers
	s.mu.Unlock()

	cat := s.Catalog()
	cat.Clear()
	for _, l := range s.Layers() {
		cat.Put(l.DataSetType())
	}
	s.SetOpened(true)
	s.log.Info("wms %s opened: version %s, %d layers", client.Config().Endpoint.Host, version, len(layers))
	return nil
}

func (s *Source) newClient(info domain.ConnectionInfo) (*ows.Client, error) {
	cfg, err := ows.ParseConfig(s.Type(), info, DefaultVersion)
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
		"SERVICE": {"WMS"},
		"REQUEST": {"GetCapabilities"},
		"VERSION": {client.Config().Version},
	}
	var caps Capabilities
	if err := client.GetXML(ctx, params, &caps); err != nil {
		return nil, err
	}
	if caps.Capability.Layer == nil {
		return nil, fmt.Errorf("capabilities document has no layers")
	}
	return &caps, nil
}

// pickFormat prefers png, then jpeg, then whatever the server lists first.
func pickFormat(formats []string) string {
	for _, want := range []string{"image/png", "image/jpeg"} {
		for _, f := range formats {
			if strings.EqualFold(strings.TrimSpace(f), want) {
				return want
			}
		}
	}
	if len(formats) > 0 {
		return strings.TrimSpace(formats[0])
	}
	return DefaultFormat
}

func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	s.client = nil
	s.layers = nil
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

// Title returns the service title from the capabilities document.
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

// Exists 探测 info 指向的服务能否返回能力文档
func (s *Source) Exists(ctx context.Context, info domain.ConnectionInfo) (bool, error) {
	client, err := s.newClient(info)
	if err != nil {
		return false, err
	}
	if _, err := fetchCapabilities(ctx, client); err != nil {
		s.log.Debug("wms capabilities check %s: %v", client.Config().Endpoint.Host, err)
		return false, nil
	}
	return true, nil
}

// ==================== ows.Service ====================

func (s *Source) Layers() []*ows.Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.layers))
	for name := range s.layers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*ows.Layer, 0, len(names))
	for _, name := range names {
		out = append(out, &s.layers[name].Layer)
	}
	return out
}

func (s *Source) Layer(name string) (*ows.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[name]
	if !ok {
		return nil, false
	}
	return &l.Layer, true
}

// Fetch 发送 GetMap，env 须与图层 CRS 一致
func (s *Source) Fetch(ctx context.Context, l *ows.Layer, env geometry.Envelope) (*domain.Raster, error) {
	s.mu.RLock()
	client, format, width, height := s.client, s.format, s.width, s.height
	ml, ok := s.layers[l.Name]
	s.mu.RUnlock()
	if client == nil {
		return nil, domain.NewErrNotOpen(s.Type())
	}
	if !ok {
		return nil, domain.NewErrDataSetNotFound(l.Name)
	}
	if !env.IsValid() {
		return nil, fmt.Errorf("layer %s has no bounding box", l.Name)
	}

	version := client.Config().Version
	w, h := imageSize(env, width, height)
	params := url.Values{
		"SERVICE":     {"WMS"},
		"REQUEST":     {"GetMap"},
		"VERSION":     {version},
		"LAYERS":      {l.Name},
		"STYLES":      {""},
		"BBOX":        {bboxParam(env, version, ml.CRS)},
		"WIDTH":       {itoa(w)},
		"HEIGHT":      {itoa(h)},
		"FORMAT":      {format},
		"TRANSPARENT": {"TRUE"},
	}
	if strings.HasPrefix(version, "1.3") {
		params.Set("CRS", ml.CRS)
	} else {
		params.Set("SRS", ml.CRS)
	}

	s.log.Debug("GetMap %s bbox=%s size=%dx%d", l.Name, env.BBox(), w, h)
	resp, err := client.Get(ctx, params)
	if err != nil {
		return nil, err
	}
	if resp.IsXML() {
		return nil, fmt.Errorf("GetMap returned %s instead of an image", resp.ContentType)
	}
	ct := resp.ContentType
	if ct == "" {
		ct = format
	}
	return &domain.Raster{
		Format:   ct,
		Envelope: env,
		SRID:     l.SRID,
		Width:    w,
		Height:   h,
		Data:     resp.Body,
	}, nil
}

var _ ows.Service = (*Source)(nil)

// Factory WMS 数据源工厂
type Factory struct{}

// NewFactory 创建 WMS 数据源工厂
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeWMS
}

func (f *Factory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewSource(info), nil
}
