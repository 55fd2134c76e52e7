package bugzilla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/project-archbot/archbot/pkg/types"
)

// Client is the tracker contract the engine consumes.
type Client interface {
	FetchBugs(ctx context.Context, ids []int) (map[int]*types.Bug, error)
	FindBugs(ctx context.Context, q Search) (map[int]*types.Bug, error)
	LatestComment(ctx context.Context, id int) (string, error)
	Update(ctx context.Context, id int, upd *types.BugUpdate) error
}

// Search selects bugs for a batch pass.
type Search struct {
	Categories []types.Category
	CC         []string
	SkipTag    string
	Limit      int
}

var includeFields = []string{
	"id", "product", "component", "cf_stabilisation_atoms", "cc",
	"depends_on", "blocks", "keywords", "flags", "is_open",
	"assigned_to", "last_change_time",
}

// RESTClient talks to a Bugzilla /rest endpoint.
type RESTClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewRESTClient creates a client for the given endpoint. An empty apiKey
// runs unauthorized read-only queries.
func NewRESTClient(endpoint, apiKey string) *RESTClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &RESTClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type apiFlag struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type apiBug struct {
	ID                   int      `json:"id"`
	Product              string   `json:"product"`
	Component            string   `json:"component"`
	CfStabilisationAtoms string   `json:"cf_stabilisation_atoms"`
	CC                   []string `json:"cc"`
	DependsOn            []int    `json:"depends_on"`
	Blocks               []int    `json:"blocks"`
	Keywords             []string `json:"keywords"`
	Flags                []apiFlag `json:"flags"`
	IsOpen               bool     `json:"is_open"`
	AssignedTo           string   `json:"assigned_to"`
	LastChangeTime       string   `json:"last_change_time"`
}

// toBug converts the wire record into the fixed internal form. Missing
// fields default; nothing loosely typed propagates past this point.
func (b *apiBug) toBug() *types.Bug {
	bug := &types.Bug{
		ID:          b.ID,
		Category:    CategoryFromComponent(b.Component),
		Atoms:       b.CfStabilisationAtoms,
		CC:          b.CC,
		Keywords:    b.Keywords,
		Depends:     b.DependsOn,
		Blocks:      b.Blocks,
		SanityCheck: types.FlagUnset,
		Security:    b.Product == "Gentoo Security",
		Resolved:    !b.IsOpen,
		AssignedTo:  b.AssignedTo,
	}
	for _, f := range b.Flags {
		if f.Name != "sanity-check" {
			continue
		}
		switch f.Status {
		case "+":
			bug.SanityCheck = types.FlagPass
		case "-":
			bug.SanityCheck = types.FlagFail
		}
	}
	if t, err := time.Parse(time.RFC3339, b.LastChangeTime); err == nil {
		bug.LastChangeTime = t
	}
	return bug
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	u := c.endpoint + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bugzilla request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bugzilla returned %s: %s", resp.Status, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type bugsResponse struct {
	Bugs []apiBug `json:"bugs"`
}

// FetchBugs fetches the given bug ids.
func (c *RESTClient) FetchBugs(ctx context.Context, ids []int) (map[int]*types.Bug, error) {
	if len(ids) == 0 {
		return map[int]*types.Bug{}, nil
	}
	strIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		strIDs = append(strIDs, strconv.Itoa(id))
	}
	params := url.Values{}
	params.Set("id", strings.Join(strIDs, ","))
	for _, f := range includeFields {
		params.Add("include_fields", f)
	}
	var resp bugsResponse
	if err := c.get(ctx, "/bug", params, &resp); err != nil {
		return nil, err
	}
	out := make(map[int]*types.Bug, len(resp.Bugs))
	for i := range resp.Bugs {
		out[resp.Bugs[i].ID] = resp.Bugs[i].toBug()
	}
	return out, nil
}

// FindBugs searches for open bugs matching q.
func (c *RESTClient) FindBugs(ctx context.Context, q Search) (map[int]*types.Bug, error) {
	params := url.Values{}
	cats := q.Categories
	if len(cats) == 0 {
		cats = []types.Category{types.Keywordreq, types.Stablereq}
	}
	for _, cat := range cats {
		for _, comp := range CategoryComponents(cat) {
			params.Add("component", comp)
		}
	}
	params.Set("resolution", "---")
	for _, cc := range q.CC {
		params.Add("cc", cc)
	}
	if q.SkipTag != "" {
		params.Set("f1", "status_whiteboard")
		params.Set("o1", "notsubstring")
		params.Set("v1", q.SkipTag)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	for _, f := range includeFields {
		params.Add("include_fields", f)
	}
	var resp bugsResponse
	if err := c.get(ctx, "/bug", params, &resp); err != nil {
		return nil, err
	}
	out := make(map[int]*types.Bug, len(resp.Bugs))
	for i := range resp.Bugs {
		b := resp.Bugs[i].toBug()
		// skip bugs without a package list (e.g. security bugs that
		// are not stabilization requests) and bugs that raced to
		// resolution during the search
		if strings.TrimSpace(b.Atoms) == "" || b.Resolved {
			continue
		}
		out[b.ID] = b
	}
	return out, nil
}

type commentsResponse struct {
	Bugs map[string]struct {
		Comments []struct {
			Creator string `json:"creator"`
			Text    string `json:"text"`
		} `json:"comments"`
	} `json:"bugs"`
}

type whoamiResponse struct {
	Name string `json:"name"`
}

// LatestComment returns the newest comment left by the authenticated user,
// or the newest comment overall when running unauthorized. An empty string
// means no comment was found.
func (c *RESTClient) LatestComment(ctx context.Context, id int) (string, error) {
	self := ""
	if c.apiKey != "" {
		var who whoamiResponse
		if err := c.get(ctx, "/whoami", url.Values{}, &who); err != nil {
			return "", err
		}
		self = who.Name
	}
	var resp commentsResponse
	if err := c.get(ctx, fmt.Sprintf("/bug/%d/comment", id), url.Values{}, &resp); err != nil {
		return "", err
	}
	entry, ok := resp.Bugs[strconv.Itoa(id)]
	if !ok {
		return "", nil
	}
	for i := len(entry.Comments) - 1; i >= 0; i-- {
		if self == "" || entry.Comments[i].Creator == self {
			return entry.Comments[i].Text, nil
		}
	}
	return "", nil
}

// Update pushes a bug diff to the tracker as one atomic PUT.
func (c *RESTClient) Update(ctx context.Context, id int, upd *types.BugUpdate) error {
	if upd.Empty() {
		return nil
	}
	body := map[string]interface{}{}
	if c.apiKey != "" {
		body["api_key"] = c.apiKey
	}
	if upd.SanityCheck != nil {
		status := "X"
		switch *upd.SanityCheck {
		case types.FlagPass:
			status = "+"
		case types.FlagFail:
			status = "-"
		}
		body["flags"] = []map[string]string{
			{"name": "sanity-check", "status": status},
		}
	}
	if upd.Comment != "" {
		comment := upd.Comment
		if len(comment) >= MaxCommentLen {
			comment = comment[:MaxCommentLen-4] + "...\n"
		}
		body["comment"] = map[string]string{"body": comment}
	}
	if len(upd.CCAdd) > 0 || len(upd.CCRemove) > 0 {
		body["cc"] = map[string][]string{
			"add": upd.CCAdd, "remove": upd.CCRemove,
		}
	}
	if len(upd.KeywordsAdd) > 0 || len(upd.KeywordsRemove) > 0 {
		body["keywords"] = map[string][]string{
			"add": upd.KeywordsAdd, "remove": upd.KeywordsRemove,
		}
	}
	if upd.NewPackageList != "" {
		body["cf_stabilisation_atoms"] = upd.NewPackageList
	}
	if upd.Resolve {
		body["status"] = "RESOLVED"
		body["resolution"] = "FIXED"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/bug/%d", c.endpoint, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u,
		bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bugzilla update failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bugzilla update returned %s: %s",
			resp.Status, respBody)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ResolveDependencies fetches bugs referenced via depends_on/blocks that
// are not in the map yet, repeating until the graph is closed. Fetches are
// batched and bounded so one pass cannot explode on a malformed graph.
func ResolveDependencies(ctx context.Context, c Client, bugs map[int]*types.Bug) (map[int]*types.Bug, error) {
	const maxRounds = 10
	for round := 0; round < maxRounds; round++ {
		missing := missingDeps(bugs)
		if len(missing) == 0 {
			return bugs, nil
		}
		log.Debugf("fetching %d dependency bugs", len(missing))

		var g errgroup.Group
		g.SetLimit(4)
		results := make([]map[int]*types.Bug, (len(missing)+99)/100)
		for i := 0; i < len(missing); i += 100 {
			i := i
			batch := missing[i:min(i+100, len(missing))]
			g.Go(func() error {
				fetched, err := c.FetchBugs(ctx, batch)
				if err != nil {
					return err
				}
				results[i/100] = fetched
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return bugs, err
		}
		for _, m := range results {
			for id, b := range m {
				bugs[id] = b
			}
		}
	}
	return bugs, fmt.Errorf("dependency graph did not close after %d rounds", maxRounds)
}

func missingDeps(bugs map[int]*types.Bug) []int {
	seen := map[int]bool{}
	var missing []int
	for _, b := range bugs {
		for _, dep := range append(append([]int{}, b.Depends...), b.Blocks...) {
			if _, ok := bugs[dep]; !ok && !seen[dep] {
				seen[dep] = true
				missing = append(missing, dep)
			}
		}
	}
	return missing
}
