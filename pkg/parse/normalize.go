package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL returns the canonical text of a comment link, used to derive
// stable file names: scheme and host lowercased, default port and fragment
// dropped, trailing path slash trimmed. The query is kept since it often
// identifies the document. u is not modified.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)

	host := strings.ToLower(c.Hostname())
	switch port := c.Port(); {
	case port == "",
		c.Scheme == "http" && port == "80",
		c.Scheme == "https" && port == "443":
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		c.Host = host
	default:
		c.Host = net.JoinHostPort(host, port)
	}

	switch {
	case c.Path == "":
		c.Path = "/"
	case c.Path != "/":
		c.Path = strings.TrimSuffix(c.Path, "/")
	}
	c.RawPath = ""
	c.Fragment, c.RawFragment = "", ""

	return c.String()
}
