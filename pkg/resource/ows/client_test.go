package ows

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, rawURL string, extra domain.ConnectionInfo) *Client {
	t.Helper()
	info := domain.ConnectionInfo{
		domain.InfoURI:   rawURL,
		InfoRetryWaitMin: "1ms",
		InfoRetryWaitMax: "2ms",
	}
	for k, v := range extra {
		info[k] = v
	}
	cfg, err := ParseConfig(domain.DataSourceTypeWMS, info, "1.3.0")
	require.NoError(t, err)
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(domain.DataSourceTypeWMS, domain.ConnectionInfo{domain.InfoURI: "http://example.com/wms"}, "1.3.0")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", cfg.Version)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRetryMax, cfg.RetryMax)

	cfg, err = ParseConfig(domain.DataSourceTypeWMS, domain.ConnectionInfo{
		domain.InfoURI:       "https://example.com/wms",
		domain.InfoVersion:   "1.1.1",
		domain.InfoTimeoutMS: "1500",
		InfoRetryMax:         "-3",
	}, "1.3.0")
	require.NoError(t, err)
	assert.Equal(t, "1.1.1", cfg.Version)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 0, cfg.RetryMax)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		info       domain.ConnectionInfo
		defVersion string
	}{
		{"missing uri", domain.ConnectionInfo{}, "1.3.0"},
		{"missing version", domain.ConnectionInfo{domain.InfoURI: "http://example.com"}, ""},
		{"bad scheme", domain.ConnectionInfo{domain.InfoURI: "ftp://example.com"}, "1.3.0"},
		{"bad timeout", domain.ConnectionInfo{domain.InfoURI: "http://example.com", InfoTimeout: "later"}, "1.3.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(domain.DataSourceTypeWCS, tt.info, tt.defVersion)
			assert.True(t, domain.IsConnectionError(err), "%v", err)
		})
	}
}

func TestClient_URLKeepsEndpointQuery(t *testing.T) {
	c := newTestClient(t, "http://example.com/cgi?map=/data/world.map&service=old", nil)
	u, err := url.Parse(c.URL(url.Values{"SERVICE": {"WMS"}, "REQUEST": {"GetCapabilities"}}))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/data/world.map", q.Get("map"))
	assert.Equal(t, "WMS", q.Get("SERVICE"))
	assert.Empty(t, q.Get("service"))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, domain.ConnectionInfo{InfoRetryMax: "3"})
	resp, err := c.Get(context.Background(), url.Values{"REQUEST": {"GetMap"}})
	require.NoError(t, err)
	assert.Equal(t, "png", string(resp.Body))
	assert.False(t, resp.IsXML())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Get(context.Background(), nil)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.StatusCode)
	assert.Equal(t, "nope", he.Message)
}

func TestClient_ExceptionReports(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ServiceError
	}{
		{
			name: "wms",
			body: `<ServiceExceptionReport version="1.3.0"><ServiceException code="InvalidCRS">bad crs</ServiceException></ServiceExceptionReport>`,
			want: ServiceError{Code: "InvalidCRS", Message: "bad crs"},
		},
		{
			name: "ows",
			body: `<ows:ExceptionReport xmlns:ows="http://www.opengis.net/ows/2.0" version="2.0.0">
  <ows:Exception exceptionCode="NoSuchCoverage" locator="dem">
    <ows:ExceptionText>coverage dem not found</ows:ExceptionText>
  </ows:Exception>
</ows:ExceptionReport>`,
			want: ServiceError{Code: "NoSuchCoverage", Locator: "dem", Message: "coverage dem not found"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/xml")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, nil)
			_, err := c.Get(context.Background(), nil)
			var se *ServiceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, *se)
		})
	}
}

func TestClient_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "geo" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, domain.ConnectionInfo{
		InfoAuthType:        "basic",
		domain.InfoUser:     "geo",
		domain.InfoPassword: "secret",
	})
	resp, err := c.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestDecodeXML_Latin1(t *testing.T) {
	doc := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><Title>S`), 0xE3, 'o', ' ', 'P', 'a', 'u', 'l', 'o', '<', '/', 'T', 'i', 't', 'l', 'e', '>')
	var v struct {
		Text string `xml:",chardata"`
	}
	require.NoError(t, DecodeXML(doc, &v))
	assert.Equal(t, "São Paulo", v.Text)
}

func TestParseSRID(t *testing.T) {
	tests := map[string]int{
		"EPSG:4326":                                    4326,
		"epsg:3857":                                    3857,
		"CRS:84":                                       4326,
		"urn:ogc:def:crs:EPSG::32723":                  32723,
		"urn:ogc:def:crs:EPSG:6.6:4674":                4674,
		"http://www.opengis.net/def/crs/EPSG/0/31983":  31983,
		"http://www.opengis.net/def/crs/OGC/1.3/CRS84": 4326,
		"AUTO:42001":                                   0,
		"":                                             0,
	}
	for crs, want := range tests {
		assert.Equal(t, want, ParseSRID(crs), crs)
	}
	assert.Equal(t, "EPSG:4326", CRSName(4326))
	assert.Empty(t, CRSName(0))
}
