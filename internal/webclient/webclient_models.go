package webclient

import (
	"net/http"
	"net/url"
	"time"
)

type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	Status     string
	FetchedAt  time.Time
}
