package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/strudelkit/stscraper/pkg/ratelimit"
)

// Request is a provider-relative API request template. Paginated fetches
// mutate Query as the cursor advances; callers should treat a Request
// handed to Fetch as owned by the iterator.
type Request struct {
	// Method is the HTTP method; empty means GET.
	Method string

	// Path is the endpoint path relative to the client's base URL.
	Path string

	// Query holds URL query parameters.
	Query url.Values

	// Body is the request payload for POST requests (GraphQL).
	Body []byte

	// Header holds request-specific headers, merged over the client
	// defaults.
	Header http.Header

	// Class is the rate limit bucket the request draws from; empty means
	// the client classifies it from the path.
	Class ratelimit.Class
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// clone returns a deep copy so iterators can advance the cursor without
// surprising the caller.
func (r *Request) clone() *Request {
	c := *r
	c.Query = url.Values{}
	for k, v := range r.Query {
		c.Query[k] = append([]string(nil), v...)
	}
	c.Header = r.Header.Clone()
	return &c
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Data       []byte

	// FromCache is true when the body was served from the conditional
	// request cache after a 304.
	FromCache bool
}

// JSON decodes the response body into v. Decode failures surface as
// ErrMalformedResponse.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Items decodes the response body as a JSON array of records, the shape
// GitHub and GitLab list endpoints return.
func (r *Response) Items() ([]json.RawMessage, error) {
	if len(r.Data) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(r.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: expected array: %v", ErrMalformedResponse, err)
	}
	return items, nil
}
