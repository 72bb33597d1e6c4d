package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"torntracker/internal/constants"
	"torntracker/internal/metrics"

	"github.com/valyala/fasthttp"
)

const (
	baseURL   = "https://api.torn.com"
	baseURLV2 = "https://api.torn.com/v2"
)

type Client struct {
	client *fasthttp.Client
	window *rateWindow
}

func NewClient() *Client {
	return &Client{
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		window: newRateWindow(constants.MaxRequestsPerWindow, constants.RateLimitWindow),
	}
}

// Params are extra query parameters for a request. The credential secret
// is always added as the "key" parameter.
type Params map[string]string

type errorEnvelope struct {
	Error *struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	} `json:"error"`
}

func (c *Client) fetch(ctx context.Context, key, endpoint string, params Params, v2 bool) ([]byte, error) {
	if !c.window.allow(key) {
		metrics.APIRequests.WithLabelValues("rejected_local").Inc()
		return nil, ErrRateLimited
	}

	base := baseURL
	if v2 {
		base = baseURLV2
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("key", key)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/%s?%s", base, endpoint, values.Encode()))
	req.Header.SetMethod(fasthttp.MethodGet)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		metrics.APIRequests.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	// Failed attempts still count against the window.
	c.window.record(key)

	if resp.StatusCode() != fasthttp.StatusOK {
		metrics.APIRequests.WithLabelValues("http_error").Inc()
		return nil, &UpstreamError{Code: -1, Message: fmt.Sprintf("HTTP %d", resp.StatusCode())}
	}

	body := append([]byte(nil), resp.Body()...)

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		metrics.APIRequests.WithLabelValues("api_error").Inc()
		return nil, newUpstreamError(envelope.Error.Code)
	}

	metrics.APIRequests.WithLabelValues("success").Inc()
	return body, nil
}

func fetchTyped[T any](ctx context.Context, c *Client, key, endpoint string, params Params, v2 bool) (*T, error) {
	body, err := c.fetch(ctx, key, endpoint, params, v2)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return &result, nil
}

func selectionsParam(selections []string) Params {
	if len(selections) == 0 {
		return Params{}
	}
	return Params{"selections": strings.Join(selections, ",")}
}

// User fetches user data; id 0 means the key owner.
func (c *Client) User(ctx context.Context, key string, id int64, selections ...string) (*UserResponse, error) {
	endpoint := "user"
	if id != 0 {
		endpoint = fmt.Sprintf("user/%d", id)
	}
	return fetchTyped[UserResponse](ctx, c, key, endpoint, selectionsParam(selections), false)
}

// Faction fetches faction data; id 0 means the key owner's faction.
func (c *Client) Faction(ctx context.Context, key string, id int64, selections ...string) (*FactionResponse, error) {
	endpoint := "faction"
	if id != 0 {
		endpoint = fmt.Sprintf("faction/%d", id)
	}
	return fetchTyped[FactionResponse](ctx, c, key, endpoint, selectionsParam(selections), false)
}

// FactionBasic fetches the v2 basic block for the key owner's faction,
// used to probe which faction a credential belongs to.
func (c *Client) FactionBasic(ctx context.Context, key string) (*FactionBasicResponse, error) {
	return fetchTyped[FactionBasicResponse](ctx, c, key, "faction", Params{"selections": "basic"}, true)
}

// FactionContributors fetches per-member contributor values for one stat.
func (c *Client) FactionContributors(ctx context.Context, key string, factionID int64, stat string) (*ContributorsResponse, error) {
	endpoint := "faction"
	if factionID != 0 {
		endpoint = fmt.Sprintf("faction/%d", factionID)
	}
	return fetchTyped[ContributorsResponse](ctx, c, key, endpoint, Params{"selections": "contributors", "stat": stat}, false)
}

// FactionCrimes fetches one page of the v2 crimes feed for the key
// owner's faction. from 0 omits the from filter (full history).
func (c *Client) FactionCrimes(ctx context.Context, key string, offset int64, from int64) (*FactionCrimesResponse, error) {
	params := Params{"offset": fmt.Sprintf("%d", offset), "sort": "DESC"}
	if from > 0 {
		params["from"] = fmt.Sprintf("%d", from)
	}
	return fetchTyped[FactionCrimesResponse](ctx, c, key, "faction/crimes", params, true)
}

// KeyInfo introspects a credential's access level and selections.
func (c *Client) KeyInfo(ctx context.Context, key string) (*KeyInfoResponse, error) {
	return fetchTyped[KeyInfoResponse](ctx, c, key, "key", Params{"selections": "info"}, false)
}

// Item fetches one item's details (v2).
func (c *Client) Item(ctx context.Context, key string, itemID int64) (map[string]ItemData, error) {
	result, err := fetchTyped[map[string]ItemData](ctx, c, key, fmt.Sprintf("torn/%d/items", itemID), Params{}, true)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// UserDiscord resolves the linked messaging identity of a player (v2).
func (c *Client) UserDiscord(ctx context.Context, key string, userID int64) (*UserDiscordResponse, error) {
	return fetchTyped[UserDiscordResponse](ctx, c, key, fmt.Sprintf("user/%d/discord", userID), Params{}, true)
}

// WindowUsage exposes how many requests a credential has in the current
// window, for the health view.
func (c *Client) WindowUsage(key string) int {
	return c.window.pending(key)
}
