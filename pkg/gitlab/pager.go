package gitlab

import (
	"encoding/json"
	"strconv"

	"github.com/strudelkit/stscraper/pkg/client"
)

// pager implements GitLab's page-number pagination. GitLab reports the
// current page in X-Page and the page count in X-Total-Pages; a next
// page exists while the former is below the latter.
type pager struct {
	page int
}

func newPager() *pager {
	return &pager{page: 1}
}

func (p *pager) FirstPage(req *client.Request) {
	req.Query.Set("page", "1")
	req.Query.Set("per_page", "100")
}

func (p *pager) Items(resp *client.Response) ([]json.RawMessage, error) {
	return resp.Items()
}

func (p *pager) NextPage(resp *client.Response, req *client.Request) bool {
	page, err := strconv.Atoi(resp.Header.Get("X-Page"))
	if err != nil {
		return false
	}
	total, err := strconv.Atoi(resp.Header.Get("X-Total-Pages"))
	if err != nil || page >= total {
		return false
	}
	p.page = page + 1
	req.Query.Set("page", strconv.Itoa(p.page))
	return true
}
