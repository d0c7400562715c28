// Package httpclient provides the base HTTP client the webhook dispatcher
// sends with (the OpenAI embedding provider uses its SDK's own client): a
// consistent User-Agent and header-injection transport,
// following the teacher's userAgentTransport pattern.
package httpclient

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"runtime"

	"github.com/docker/contex/pkg/version"
)

type HTTPOptions struct {
	Header http.Header
	Query  url.Values
}

type Opt func(*HTTPOptions)

// NewHTTPClient builds an *http.Client that stamps a consistent User-Agent
// and any caller-supplied headers/query parameters onto every request, by
// wrapping http.DefaultTransport rather than http.Client.Do.
func NewHTTPClient(opts ...Opt) *http.Client {
	httpOptions := HTTPOptions{
		Header: make(http.Header),
	}

	for _, opt := range opts {
		opt(&httpOptions)
	}

	httpOptions.Header.Set("User-Agent", fmt.Sprintf("Contex/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH))

	return &http.Client{
		Transport: &userAgentTransport{
			httpOptions: httpOptions,
			rt:          http.DefaultTransport,
		},
	}
}

func WithHeader(key, value string) Opt {
	return func(o *HTTPOptions) {
		o.Header.Set(key, value)
	}
}

func WithHeaders(headers map[string]string) Opt {
	return func(o *HTTPOptions) {
		for k, v := range headers {
			o.Header.Add(k, v)
		}
	}
}

func WithQuery(query url.Values) Opt {
	return func(o *HTTPOptions) {
		o.Query = query
	}
}

type userAgentTransport struct {
	httpOptions HTTPOptions
	rt          http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	maps.Copy(r2.Header, u.httpOptions.Header)

	if u.httpOptions.Query != nil {
		q := r2.URL.Query()
		for k, vs := range u.httpOptions.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		r2.URL.RawQuery = q.Encode()
	}

	return u.rt.RoundTrip(r2)
}

// RoundTripperFunc adapts a function to the http.RoundTripper interface.
// The Dispatcher does not use it: its retry and circuit breaking wrap each
// send in WebhookSender.Send, not the transport.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
