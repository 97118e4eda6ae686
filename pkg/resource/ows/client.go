package ows

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"golang.org/x/text/encoding/htmlindex"
)

// maxErrorBody caps how much of an error body ends up in messages.
const maxErrorBody = 512

// Client 封装 OGC 服务的 GET 请求，支持认证、重试、TLS
type Client struct {
	http *retryablehttp.Client
	cfg  *Config
	log  logger.Logger
}

// Response 响应体与内容类型
type Response struct {
	ContentType string
	Body        []byte
}

// IsXML reports whether the payload is an XML document rather than an image.
func (r *Response) IsXML() bool {
	ct := strings.ToLower(r.ContentType)
	if strings.Contains(ct, "xml") {
		return true
	}
	return ct == "" && bytes.HasPrefix(bytes.TrimSpace(r.Body), []byte("<"))
}

// NewClient 创建客户端。传输错误与 5xx 由 retryablehttp 按配置重试
func NewClient(cfg *Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify || cfg.TLSCACert != "" {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
		if cfg.TLSCACert != "" {
			caCert, err := os.ReadFile(cfg.TLSCACert)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA cert: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse CA cert %s", cfg.TLSCACert)
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = leveledLogger{log}
	// 重试耗尽后返回最后一次响应，由调用方报告状态码
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{http: rc, cfg: cfg, log: log}, nil
}

// Config returns the parsed configuration.
func (c *Client) Config() *Config { return c.cfg }

// URL merges params into the endpoint query. Keys already present on the
// endpoint are replaced case-insensitively so that MapServer style
// endpoints (?map=...) keep their own parameters.
func (c *Client) URL(params url.Values) string {
	u := *c.cfg.Endpoint
	q := u.Query()
	for k := range params {
		for existing := range q {
			if strings.EqualFold(existing, k) {
				q.Del(existing)
			}
		}
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Get 发送 GET 请求。HTTP 错误返回 *HTTPError，服务异常报告返回 *ServiceError
func (c *Client) Get(ctx context.Context, params url.Values) (*Response, error) {
	target := c.URL(params)
	req, err := retryablehttp.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req = req.WithContext(ctx)
	c.setAuth(req.Request)

	c.log.Debug("ows GET %s", target)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	out := &Response{ContentType: resp.Header.Get("Content-Type"), Body: body}

	if resp.StatusCode >= 400 {
		if se := parseException(out); se != nil {
			return nil, se
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: truncate(string(body))}
	}
	if out.IsXML() {
		if se := parseException(out); se != nil {
			return nil, se
		}
	}
	return out, nil
}

// GetXML 发送请求并解码 XML 响应
func (c *Client) GetXML(ctx context.Context, params url.Values, v interface{}) error {
	resp, err := c.Get(ctx, params)
	if err != nil {
		return err
	}
	if err := DecodeXML(resp.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	switch c.cfg.AuthType {
	case "bearer":
		if c.cfg.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		}
	case "basic":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// DecodeXML decodes an OGC document. Capabilities documents in the wild
// are often ISO-8859-1, so non UTF-8 charsets go through x/text.
func DecodeXML(data []byte, v interface{}) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return dec.Decode(v)
}

// HTTPError HTTP 错误
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ServiceError 服务端返回的 OGC 异常报告
type ServiceError struct {
	Code    string
	Locator string
	Message string
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("service exception")
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Locator != "" {
		b.WriteString(" at " + e.Locator)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// exceptionReport covers both the WMS ServiceExceptionReport and the OWS
// ExceptionReport used by WCS 2.0.
type exceptionReport struct {
	XMLName    xml.Name
	Exceptions []struct {
		Code     string   `xml:"code,attr"`
		OWSCode  string   `xml:"exceptionCode,attr"`
		Locator  string   `xml:"locator,attr"`
		Text     string   `xml:",chardata"`
		OWSTexts []string `xml:"ExceptionText"`
	} `xml:",any"`
}

func parseException(resp *Response) *ServiceError {
	var rep exceptionReport
	if err := DecodeXML(resp.Body, &rep); err != nil {
		return nil
	}
	switch rep.XMLName.Local {
	case "ServiceExceptionReport", "ExceptionReport":
	default:
		return nil
	}
	se := &ServiceError{}
	if len(rep.Exceptions) > 0 {
		ex := rep.Exceptions[0]
		se.Code = ex.Code
		if se.Code == "" {
			se.Code = ex.OWSCode
		}
		se.Locator = ex.Locator
		se.Message = strings.TrimSpace(ex.Text)
		if len(ex.OWSTexts) > 0 {
			se.Message = strings.TrimSpace(strings.Join(ex.OWSTexts, "; "))
		}
	}
	return se
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// leveledLogger adapts logger.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l logger.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.l.Error("%s %v", msg, kv) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.l.Warn("%s %v", msg, kv) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.l.Debug("%s %v", msg, kv) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.l.Debug("%s %v", msg, kv) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
