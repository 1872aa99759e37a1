package enode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/kilianp07/citro80/core/chargekill"
	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/infra/logger"
)

// tokenEarlyExpiry refreshes the access token this long before it expires.
const tokenEarlyExpiry = 15 * time.Minute

const maxErrorBody = 4 << 10

// LinkScopes are requested when linking a user's vehicle account.
var LinkScopes = []string{
	"vehicle:read:data",
	"vehicle:read:location",
	"vehicle:control:charging",
}

// LinkSession is returned by LinkUser.
type LinkSession struct {
	LinkURL   string `json:"linkUrl"`
	LinkToken string `json:"linkToken"`
}

type pagination struct {
	After  *string `json:"after"`
	Before *string `json:"before"`
}

type vehiclePage struct {
	Data       []model.Vehicle `json:"data"`
	Pagination pagination      `json:"pagination"`
}

// tokenFunc fetches a new token on every call. cc.TokenSource caches on its
// own with a short expiry delta, which would defeat the early refresh.
type tokenFunc func() (*oauth2.Token, error)

func (f tokenFunc) Token() (*oauth2.Token, error) { return f() }

// Client talks to the Enode REST API.
type Client struct {
	base        *url.URL
	http        *http.Client
	limiter     *rate.Limiter
	redirectURI string
	log         logger.Logger
}

var (
	_ chargekill.ChargeStates = (*Client)(nil)
	_ chargekill.Actions      = (*Client)(nil)
)

// New creates a client authenticating with the client-credentials grant.
// The token is reused until tokenEarlyExpiry before it expires.
func New(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.APIURL, "/"))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	plain := &http.Client{Timeout: timeout}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimSuffix(cfg.OAuthURL, "/") + "/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, plain)
	fetch := tokenFunc(func() (*oauth2.Token, error) { return cc.Token(tokenCtx) })
	src := oauth2.ReuseTokenSourceWithExpiry(nil, fetch, tokenEarlyExpiry)

	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: src, Base: http.DefaultTransport},
		},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		redirectURI: cfg.LinkRedirectURI,
		log:         logger.New("enode"),
	}, nil
}

// GetVehicle fetches one vehicle with its charge state.
func (c *Client) GetVehicle(ctx context.Context, vehicleID string) (model.Vehicle, error) {
	var v model.Vehicle
	err := c.do(ctx, http.MethodGet, "/vehicles/"+url.PathEscape(vehicleID), nil, &v)
	return v, err
}

// GetChargeState returns the live charge state of a vehicle.
func (c *Client) GetChargeState(ctx context.Context, vehicleID string) (model.ChargeState, error) {
	v, err := c.GetVehicle(ctx, vehicleID)
	if err != nil {
		return model.ChargeState{}, err
	}
	return v.ChargeState, nil
}

// ListVehicles returns every vehicle linked to the user, following pagination.
func (c *Client) ListVehicles(ctx context.Context, userID string) ([]model.Vehicle, error) {
	var out []model.Vehicle
	path := "/users/" + url.PathEscape(userID) + "/vehicles"
	after := ""
	for {
		p := path
		if after != "" {
			p += "?after=" + url.QueryEscape(after)
		}
		var page vehiclePage
		if err := c.do(ctx, http.MethodGet, p, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if page.Pagination.After == nil || *page.Pagination.After == "" || len(page.Data) == 0 {
			return out, nil
		}
		after = *page.Pagination.After
	}
}

// Charge starts or stops charging and returns the created action.
func (c *Client) Charge(ctx context.Context, vehicleID string, action model.ChargeAction) (model.ActionRecord, error) {
	var rec model.ActionRecord
	body := struct {
		Action model.ChargeAction `json:"action"`
	}{action}
	err := c.do(ctx, http.MethodPost, "/vehicles/"+url.PathEscape(vehicleID)+"/charging", body, &rec)
	if err == nil {
		c.log.Infof("%s charging action %s created for vehicle %s (%s)", action, rec.ID, vehicleID, rec.State)
	}
	return rec, err
}

// DispatchStopCommand asks the vehicle to stop charging.
func (c *Client) DispatchStopCommand(ctx context.Context, vehicleID string) (model.ActionRecord, error) {
	return c.Charge(ctx, vehicleID, model.ChargeStop)
}

// GetActionRecord fetches a previously created charge action.
func (c *Client) GetActionRecord(ctx context.Context, actionID string) (model.ActionRecord, error) {
	var rec model.ActionRecord
	err := c.do(ctx, http.MethodGet, "/vehicles/actions/"+url.PathEscape(actionID), nil, &rec)
	return rec, err
}

// LinkUser starts a link session for the user. An empty redirectURI uses the
// configured default.
func (c *Client) LinkUser(ctx context.Context, userID, redirectURI string) (LinkSession, error) {
	if redirectURI == "" {
		redirectURI = c.redirectURI
	}
	body := struct {
		VendorType  string   `json:"vendorType"`
		Scopes      []string `json:"scopes"`
		Language    string   `json:"language"`
		RedirectURI string   `json:"redirectUri"`
	}{"vehicle", LinkScopes, "en-US", redirectURI}
	var s LinkSession
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/link", body, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("enode: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("enode: decode %s %s: %w", method, path, err)
	}
	return nil
}
