package github

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/strudelkit/stscraper/pkg/client"
)

// pager implements GitHub's page-number pagination: a page/per_page
// query cursor, with the Link response header announcing whether a next
// page exists.
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
	if !hasNextPage(resp.Header.Get("Link")) {
		return false
	}
	p.page++
	req.Query.Set("page", strconv.Itoa(p.page))
	return true
}

// hasNextPage reports whether a Link header carries a rel="next"
// segment, e.g.:
//
//	<https://api.github.com/user/repos?page=3>; rel="next", <...>; rel="last"
func hasNextPage(link string) bool {
	for _, rel := range strings.Split(link, ",") {
		parts := strings.Split(rel, ";")
		if strings.TrimSpace(parts[len(parts)-1]) == `rel="next"` {
			return true
		}
	}
	return false
}
