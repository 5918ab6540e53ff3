package headers

import (
	"net/http"
	"time"
)

// UserAgent identifies the scraper to instance admins.
var UserAgent = "toot-scraper/dev (+https://github.com/agnosto/toot-scraper)"

func GetBasicHeaders() map[string]string {
	return map[string]string{
		"Accept":     "application/json",
		"User-Agent": UserAgent,
	}
}

// AddHeadersToRequest sets the basic headers the request does not carry yet.
func AddHeadersToRequest(req *http.Request) {
	for key, value := range GetBasicHeaders() {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
}

// Transport adds the basic headers to every request sent through Base.
type Transport struct {
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	AddHeadersToRequest(req)
	return t.base().RoundTrip(req)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// NewClient returns an http.Client that sends the basic headers.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: &Transport{}}
}
