package bitbucket

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/strudelkit/stscraper/pkg/client"
)

// pager implements Bitbucket's body-cursor pagination: records live
// under "values" and another page exists while the body carries a
// non-empty "next" URL. The page counter advances through the familiar
// page query parameter.
type pager struct {
	page    int
	hasNext bool
}

func newPager() *pager {
	return &pager{page: 1}
}

func (p *pager) FirstPage(req *client.Request) {
	req.Query.Set("page", "1")
	req.Query.Set("pagelen", "100")
}

func (p *pager) Items(resp *client.Response) ([]json.RawMessage, error) {
	var body struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Values []json.RawMessage `json:"values"`
		Next   string            `json:"next"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
	}
	if body.Error != nil {
		return nil, &client.APIError{
			Provider:   "bitbucket",
			StatusCode: resp.StatusCode,
			Class:      client.ErrorClassClient,
			Message:    body.Error.Message,
		}
	}
	p.hasNext = body.Next != ""
	return body.Values, nil
}

func (p *pager) NextPage(resp *client.Response, req *client.Request) bool {
	if !p.hasNext {
		return false
	}
	p.page++
	req.Query.Set("page", strconv.Itoa(p.page))
	return true
}
