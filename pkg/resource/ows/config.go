package ows

import (
	"net/url"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// 连接参数键（OGC Web 服务专用）
const (
	InfoTimeout       = "timeout"
	InfoRetryMax      = "retry_max"
	InfoRetryWaitMin  = "retry_wait_min"
	InfoRetryWaitMax  = "retry_wait_max"
	InfoAuthType      = "auth_type"
	InfoAuthToken     = "auth_token"
	InfoTLSSkipVerify = "tls_skip_verify"
	InfoTLSCACert     = "tls_ca_cert"
	InfoWidth         = "WIDTH"
	InfoHeight        = "HEIGHT"
)

// 默认值
const (
	DefaultTimeout      = 30 * time.Second
	DefaultRetryMax     = 2
	DefaultRetryWaitMin = 200 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
)

// Config 服务端点与 HTTP 行为配置
type Config struct {
	Endpoint *url.URL
	Version  string

	// 认证: bearer, basic 或空
	AuthType  string
	AuthToken string
	Username  string
	Password  string

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	TLSSkipVerify bool
	TLSCACert     string
}

// ParseConfig reads the endpoint and HTTP options from info. URI is
// required; version falls back to defVersion when the driver has one.
func ParseConfig(driver domain.DataSourceType, info domain.ConnectionInfo, defVersion string) (*Config, error) {
	required := []string{domain.InfoURI}
	if defVersion == "" {
		required = append(required, domain.InfoVersion)
	}
	if err := info.Require(driver, required...); err != nil {
		return nil, err
	}

	u, err := url.Parse(strings.TrimSpace(info.Get(domain.InfoURI)))
	if err != nil {
		return nil, domain.NewErrConnection(driver, "invalid URI", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.NewErrConnection(driver, "URI must be an http(s) URL: "+u.String(), nil)
	}

	cfg := &Config{
		Endpoint:  u,
		Version:   defVersion,
		AuthType:  strings.ToLower(info.Get(InfoAuthType)),
		AuthToken: info.Get(InfoAuthToken),
		Username:  info.Get(domain.InfoUser),
		Password:  info.Get(domain.InfoPassword),
		TLSCACert: info.Get(InfoTLSCACert),
	}
	if v, ok := info.Lookup(domain.InfoVersion); ok {
		cfg.Version = strings.TrimSpace(v)
	}

	invalid := func(err error) error {
		return domain.NewErrConnection(driver, "invalid connection parameter", err)
	}
	if cfg.TLSSkipVerify, err = info.Bool(InfoTLSSkipVerify, false); err != nil {
		return nil, invalid(err)
	}
	if cfg.Timeout, err = info.Duration(InfoTimeout, DefaultTimeout); err != nil {
		return nil, invalid(err)
	}
	if ms, err := info.Int(domain.InfoTimeoutMS, 0); err != nil {
		return nil, invalid(err)
	} else if ms > 0 {
		if _, set := info.Lookup(InfoTimeout); !set {
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if cfg.RetryMax, err = info.Int(InfoRetryMax, DefaultRetryMax); err != nil {
		return nil, invalid(err)
	}
	if cfg.RetryWaitMin, err = info.Duration(InfoRetryWaitMin, DefaultRetryWaitMin); err != nil {
		return nil, invalid(err)
	}
	if cfg.RetryWaitMax, err = info.Duration(InfoRetryWaitMax, DefaultRetryWaitMax); err != nil {
		return nil, invalid(err)
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = cfg.RetryWaitMin
	}
	return cfg, nil
}
