// Package webcheck fetches a site's landing page over HTTPS and reports HSTS
// and mixed-content problems. It never fails an inspection: fetch problems
// are reported as info findings.
package webcheck

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	"go.uber.org/zap"
)

const maxRedirects = 5

// Config tunes the web checks.
type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// BodyLimit caps how many bytes of the page are tokenised.
	BodyLimit int64 `mapstructure:"body_limit"`
	// MinHSTSMaxAge is in seconds.
	MinHSTSMaxAge int64  `mapstructure:"min_hsts_max_age"`
	UserAgent     string `mapstructure:"user_agent"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		BodyLimit:     constants.WebBodyLimitBytes,
		MinHSTSMaxAge: OneYear,
		UserAgent:     "tlsinspect/1.0",
	}
}

// Checker performs one HTTPS GET per Check.
type Checker struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New returns a Checker. Zero fields of cfg take DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *Checker {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = def.BodyLimit
	}
	if cfg.MinHSTSMaxAge <= 0 {
		cfg.MinHSTSMaxAge = def.MinHSTSMaxAge
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		// Certificate trust is judged by the chain validator; the page is
		// fetched regardless so its headers can be evaluated.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		TLSHandshakeTimeout: cfg.Timeout,
		DisableKeepAlives:   true,
	}
	return &Checker{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Name identifies the collaborator.
func (c *Checker) Name() string { return "web" }

// Check fetches https://hostname:port/ and evaluates the response.
func (c *Checker) Check(ctx context.Context, hostname string, port int) []finding.Finding {
	return c.CheckURL(ctx, pageURL(hostname, port))
}

// pageURL builds the root page URL, bracketing IPv6 literals and leaving the
// default port implicit.
func pageURL(hostname string, port int) string {
	host := net.JoinHostPort(hostname, strconv.Itoa(port))
	if port == 443 {
		host = strings.TrimSuffix(host, ":443")
	}
	return "https://" + host + "/"
}

// CheckURL evaluates one page. The HSTS header is read from the final
// response after redirects.
func (c *Checker) CheckURL(ctx context.Context, url string) []finding.Finding {
	logger := c.logger.With(zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return []finding.Finding{skipped(err)}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Debug("fetch failed", zap.Error(err))
		return []finding.Finding{skipped(err)}
	}
	defer resp.Body.Close()

	if resp.Request.URL.Scheme != "https" {
		return []finding.Finding{finding.New(finding.SeverityHigh, finding.CategoryHSTS,
			fmt.Sprintf("HTTPS page redirects to plain HTTP (%s)", resp.Request.URL),
			"Keep every redirect on HTTPS.")}
	}

	out := EvaluateHSTS(resp.Header.Get("Strict-Transport-Security"), c.cfg.MinHSTSMaxAge)

	if !isHTML(resp.Header.Get("Content-Type")) {
		logger.Debug("skipping mixed content check", zap.String("content_type", resp.Header.Get("Content-Type")))
		return out
	}
	mixed := FindMixedContent(io.LimitReader(resp.Body, c.cfg.BodyLimit))
	out = append(out, mixed.Findings(resp.Request.URL.String())...)

	logger.Debug("web checks complete", zap.Int("status", resp.StatusCode), zap.Int("findings", len(out)))
	return out
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

func skipped(err error) finding.Finding {
	msg := err.Error()
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		msg = "request timed out"
	}
	return finding.New(finding.SeverityInfo, finding.CategoryHSTS,
		fmt.Sprintf("web checks skipped: %s", msg),
		"Make sure the site answers HTTPS requests on its landing page.")
}
