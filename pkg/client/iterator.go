package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// Pager drives provider-specific pagination. FirstPage seeds the cursor
// parameters, Items extracts the records of one page, and NextPage
// advances the request to the following page, reporting false when the
// cursor is exhausted.
//
// The cursor only moves forward: NextPage is called once per fetched page
// and the iterator never revisits an earlier one.
type Pager interface {
	FirstPage(req *Request)
	Items(resp *Response) ([]json.RawMessage, error)
	NextPage(resp *Response, req *Request) bool
}

// Fetch returns a lazy iterator over all records of a paginated
// endpoint. Pages are requested on demand as the iterator advances;
// discarding the iterator (or cancelling ctx) stops further requests.
// There is no resumable cursor: restarting means calling Fetch again.
func (c *Client) Fetch(ctx context.Context, req *Request, pager Pager) *Iterator {
	r := req.clone()
	pager.FirstPage(r)
	return &Iterator{
		ctx:    ctx,
		client: c,
		req:    r,
		pager:  pager,
		pos:    -1,
	}
}

// FetchOne performs a non-paginated request and returns the decoded
// record.
func (c *Client) FetchOne(ctx context.Context, req *Request) (json.RawMessage, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	if !json.Valid(resp.Data) {
		return nil, &APIError{
			Provider:   c.config.Provider,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    req.Path,
			Err:        ErrMalformedResponse,
		}
	}
	return json.RawMessage(resp.Data), nil
}

// FailedIterator returns an iterator that yields no records and reports
// err. Providers use it for operations their API does not offer.
func FailedIterator(err error) *Iterator {
	return &Iterator{pos: -1, err: err, done: true}
}

// Filter makes it skip records for which keep returns false. It returns
// the same iterator for chaining.
func Filter(it *Iterator, keep func(json.RawMessage) bool) *Iterator {
	it.filter = keep
	return it
}

// Iterator is a lazy sequence of records spanning multiple pages.
// Usage follows the scanner pattern:
//
//	it := gh.RepoIssues(ctx, "pandas-dev/pandas")
//	for it.Next() {
//		var issue Issue
//		if err := json.Unmarshal(it.Record(), &issue); err != nil { ... }
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	ctx    context.Context
	client *Client
	req    *Request
	pager  Pager

	page   []json.RawMessage
	pos    int
	err    error
	done   bool
	filter func(json.RawMessage) bool
}

// Next advances to the following record, fetching the next page when the
// current one is consumed. It returns false at the end of the sequence or
// on the first error.
func (it *Iterator) Next() bool {
	for {
		if !it.advance() {
			return false
		}
		if it.filter == nil || it.filter(it.Record()) {
			return true
		}
	}
}

func (it *Iterator) advance() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	for it.pos >= len(it.page) {
		if it.done {
			return false
		}
		if !it.fetchPage() {
			return false
		}
	}
	return true
}

// Record returns the current record. Valid only after a true Next.
func (it *Iterator) Record() json.RawMessage {
	return it.page[it.pos]
}

// Decode unmarshals the current record into v.
func (it *Iterator) Decode(v any) error {
	if err := json.Unmarshal(it.Record(), v); err != nil {
		return &APIError{
			Provider: it.client.config.Provider,
			Class:    ErrorClassClient,
			Message:  it.req.Path,
			Err:      fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}
	return nil
}

// Err returns the error that terminated iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the iterator into a slice.
func (it *Iterator) Collect() ([]json.RawMessage, error) {
	var records []json.RawMessage
	for it.Next() {
		records = append(records, it.Record())
	}
	return records, it.Err()
}

// fetchPage requests the next page and loads its records. Returns false
// when iteration should stop, with it.err set on failure.
func (it *Iterator) fetchPage() bool {
	resp, err := it.client.Do(it.ctx, it.req)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}

	// Empty-result statuses terminate pagination silently.
	if len(resp.Data) == 0 {
		it.done = true
		return false
	}

	items, err := it.pager.Items(resp)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}

	it.page = items
	it.pos = 0

	// A page with no records ends the sequence even if the provider
	// advertises a next cursor.
	if len(items) == 0 || !it.pager.NextPage(resp, it.req) {
		it.done = true
	}
	return len(items) > 0
}
