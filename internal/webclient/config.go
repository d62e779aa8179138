package webclient

import "time"

// Config controls how the underlying *http.Client is built.
type Config struct {
	// Timeout bounds a single request including reading the body. Zero means 30s.
	Timeout time.Duration

	// Verify enables TLS certificate verification. Appliances with self-signed
	// certificates are commonly reached with Verify set to false.
	Verify bool

	// ProxyURL, when set, routes every request through this proxy. When empty the
	// environment (HTTP_PROXY/HTTPS_PROXY/NO_PROXY) decides.
	ProxyURL string

	// DisableHTTP2 keeps the transport on HTTP/1.1.
	DisableHTTP2 bool
}
