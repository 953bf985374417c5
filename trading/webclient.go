package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
)

// WebClientConfig configures the HTTP client for the trading network.
type WebClientConfig struct {
	Log         slog.Logger
	BaseURL     string
	Credentials Credentials

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// WebClient talks to the trading network's web API. It implements
// NetworkSession, OfferSender and StatusFetcher.
type WebClient struct {
	log   slog.Logger
	base  string
	creds Credentials
	hc    *http.Client

	mu           sync.RWMutex
	sessionToken string
	webCookie    string

	events chan Event
}

func NewWebClient(cfg WebClientConfig) (*WebClient, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("web client requires a logger")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("web client requires a base URL")
	}
	if cfg.Credentials.Account == "" || cfg.Credentials.Secret == "" {
		return nil, fmt.Errorf("web client requires account credentials")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebClient{
		log:    cfg.Log,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		creds:  cfg.Credentials,
		hc:     hc,
		events: make(chan Event, 16),
	}, nil
}

// Events delivers asynchronous session signals to the session manager.
func (c *WebClient) Events() <-chan Event { return c.events }

func (c *WebClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warnf("webclient: event channel full; dropping %v", ev.Type)
	}
}

type logonRequest struct {
	Account string `json:"account"`
	Secret  string `json:"secret"`
	Code    string `json:"code,omitempty"`
}

type logonResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// LogOn performs the authentication handshake. The established signal is
// delivered on Events once the network confirms the session.
func (c *WebClient) LogOn(ctx context.Context) error {
	req := logonRequest{
		Account: c.creds.Account,
		Secret:  c.creds.Secret,
	}
	if c.creds.TwoFactor != nil {
		req.Code = c.creds.TwoFactor()
	}

	var resp logonResponse
	status, err := c.post(ctx, "/session/logon", "", req, &resp)
	if err != nil {
		return fmt.Errorf("logon: %w", err)
	}
	if status != http.StatusOK || resp.Token == "" {
		return fmt.Errorf("logon rejected (status %d): %s", status, resp.Error)
	}

	c.mu.Lock()
	c.sessionToken = resp.Token
	c.mu.Unlock()

	c.emit(Event{Type: EventEstablished})
	return nil
}

// LogOff releases the session on the network side, best effort.
func (c *WebClient) LogOff() {
	c.mu.Lock()
	token := c.sessionToken
	c.sessionToken = ""
	c.webCookie = ""
	c.mu.Unlock()
	if token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.post(ctx, "/session/logoff", token, struct{}{}, nil); err != nil {
		c.log.Debugf("webclient: logoff failed: %v", err)
	}
}

type webSessionResponse struct {
	Cookie string `json:"cookie"`
	Error  string `json:"error"`
}

// RefreshWebSession exchanges the session token for a fresh web credential,
// required by offer submissions.
func (c *WebClient) RefreshWebSession(ctx context.Context) error {
	c.mu.RLock()
	token := c.sessionToken
	c.mu.RUnlock()
	if token == "" {
		return fmt.Errorf("no session token")
	}

	var resp webSessionResponse
	status, err := c.post(ctx, "/session/web", token, struct{}{}, &resp)
	if err != nil {
		return fmt.Errorf("web session refresh: %w", err)
	}
	if status != http.StatusOK || resp.Cookie == "" {
		return fmt.Errorf("web session refresh rejected (status %d): %s", status, resp.Error)
	}

	c.mu.Lock()
	c.webCookie = resp.Cookie
	c.mu.Unlock()
	return nil
}

// WebSessionValid re-checks the web credential with the network. Used by the
// session manager's liveness probe to catch silent disconnects.
func (c *WebClient) WebSessionValid(ctx context.Context) bool {
	c.mu.RLock()
	cookie := c.webCookie
	c.mu.RUnlock()
	if cookie == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/session/validate", nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-Web-Session", cookie)
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type sendOfferRequest struct {
	TradeURL string  `json:"trade_url"`
	Message  string  `json:"message"`
	Items    []Asset `json:"items"`
}

type sendOfferResponse struct {
	OfferID string `json:"tradeofferid"`
	Error   string `json:"error"`
}

// SendOffer submits a one-directional proposal requesting assets from the
// counterparty. Failures are classified into OfferError reasons.
func (c *WebClient) SendOffer(ctx context.Context, tradeURL string, assets []Asset, message string) (string, error) {
	c.mu.RLock()
	cookie := c.webCookie
	c.mu.RUnlock()

	var resp sendOfferResponse
	status, err := c.postWeb(ctx, "/tradeoffer/new", cookie, sendOfferRequest{
		TradeURL: tradeURL,
		Message:  message,
		Items:    assets,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("send offer: %w", err)
	}
	if status == http.StatusTooManyRequests {
		// Rate limiting is session-critical; let the manager back off.
		c.emit(Event{Type: EventCritical, Err: fmt.Errorf("rate limited by trading network")})
	}
	if status != http.StatusOK || resp.OfferID == "" {
		return "", classifyOfferError(status, resp.Error)
	}
	return resp.OfferID, nil
}

// classifyOfferError folds the network's reported reason into the closed
// taxonomy. Unrecognized reasons pass through with the raw message.
func classifyOfferError(status int, msg string) *OfferError {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusUnauthorized, strings.Contains(lower, "not logged in"),
		strings.Contains(lower, "session expired"):
		return &OfferError{Reason: ReasonNotLoggedIn, Message: msg}
	case strings.Contains(lower, "trade ban"), strings.Contains(lower, "cannot trade"):
		return &OfferError{Reason: ReasonTradeBanned, Message: msg}
	default:
		if msg == "" {
			msg = fmt.Sprintf("trading network returned status %d", status)
		}
		return &OfferError{Reason: ReasonUnknown, Message: msg}
	}
}

type offerStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// OfferStatus fetches the current status of a submitted proposal.
func (c *WebClient) OfferStatus(ctx context.Context, remoteID string) (OfferStatus, error) {
	c.mu.RLock()
	cookie := c.webCookie
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/tradeoffer/"+remoteID, nil)
	if err != nil {
		return StatusUnknown, err
	}
	req.Header.Set("X-Web-Session", cookie)
	resp, err := c.hc.Do(req)
	if err != nil {
		return StatusUnknown, fmt.Errorf("offer status: %w", err)
	}
	defer resp.Body.Close()

	var body offerStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusUnknown, fmt.Errorf("offer status decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return StatusUnknown, fmt.Errorf("offer status rejected (status %d): %s", resp.StatusCode, body.Error)
	}
	return parseOfferStatus(body.Status), nil
}

func parseOfferStatus(s string) OfferStatus {
	switch strings.ToLower(s) {
	case "active", "pending":
		return StatusActive
	case "accepted":
		return StatusAccepted
	case "declined":
		return StatusDeclined
	case "canceled", "cancelled":
		return StatusCanceled
	case "invaliditems", "invalid_items":
		return StatusInvalidItems
	case "expired":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// post sends a JSON body authenticated by the session token.
func (c *WebClient) post(ctx context.Context, path, token string, body, out any) (int, error) {
	return c.doPost(ctx, path, "X-Session-Token", token, body, out)
}

// postWeb sends a JSON body authenticated by the web credential.
func (c *WebClient) postWeb(ctx context.Context, path, cookie string, body, out any) (int, error) {
	return c.doPost(ctx, path, "X-Web-Session", cookie, body, out)
}

func (c *WebClient) doPost(ctx context.Context, path, header, value string, body, out any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if value != "" {
		req.Header.Set(header, value)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
