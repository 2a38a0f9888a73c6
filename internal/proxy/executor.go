package proxy

import (
	"net"
	"net/http"
	"time"
)

// Executor performs outbound calls exactly as built and hands the origin's
// response back untouched. Redirects are never followed: a 3xx from the
// origin belongs to the original caller, Location header and all.
type Executor struct {
	client *http.Client
}

// NewExecutor creates an executor with a pooled transport. Per-request
// deadlines come from the request context, not the client, so the probe
// timeout stays a caller decision.
func NewExecutor() *Executor {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Executor{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do issues the outbound call. A non-nil error is transport-level
// (connection refused, timeout, DNS); HTTP error statuses come back as
// ordinary responses for the caller to judge.
func (e *Executor) Do(req *http.Request) (*http.Response, error) {
	return e.client.Do(req)
}
