package fetch

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
)

// NewClient creates a new HTTP client based on the provided configuration.
// A fresh client is built for every poll cycle and its idle connections are
// closed once the cycle's fan-out rounds are done.
func NewClient(cfg *config.AppConfig, log *logrus.Entry) *http.Client {
	h := cfg.HTTPClientSettings

	dialer := &net.Dialer{
		Timeout:   h.DialerTimeout,
		KeepAlive: h.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           h.MaxIdleConns,
		MaxIdleConnsPerHost:    h.MaxIdleConnsPerHost,
		IdleConnTimeout:        h.IdleConnTimeout,
		TLSHandshakeTimeout:    h.TLSHandshakeTimeout,
		ExpectContinueTimeout:  h.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
		// Mirrored pages are public; certificate problems on linked sites must not block the download.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify()}, //nolint:gosec
	}
	if h.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *h.ForceAttemptHTTP2
	}

	maxRedirects := h.MaxRedirects
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithField("insecure_skip_verify", cfg.SkipTLSVerify()).Debug("HTTP client initialized.")
	return client
}
