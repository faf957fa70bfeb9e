// Package lockcloud is the client adapter for the cloud lock-management
// service.
//
// The client is an explicit, injectable value: it holds its own bearer
// token and expiry rather than keeping session state in package globals.
// Snapshot fetching fails per unit; partial results are acceptable and
// callers decide whether an empty overall result aborts their cycle.
package lockcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/detect"
)

const (
	// defaultTimeout bounds every request to the lock service.
	defaultTimeout = 30 * time.Second

	// tokenLifetime is how long the service honors an issued token.
	tokenLifetime = time.Hour

	// tokenRefreshMargin renews the token slightly before it expires.
	tokenRefreshMargin = 5 * time.Minute

	// maxResponseSize caps response bodies read from the service.
	maxResponseSize = 10 * 1024 * 1024
)

// ErrAuthFailed indicates the service rejected the configured credentials.
var ErrAuthFailed = errors.New("lock service authentication failed")

// Config configures the lock-cloud client.
type Config struct {
	BaseURL  string
	Email    string
	Password string

	// WhitelistLocations are the location IDs whose RFID whitelists are
	// rewritten when a credential is revoked.
	WhitelistLocations []string

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Client talks to the cloud lock service.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu             sync.Mutex
	token          string
	tokenExpiresAt time.Time
}

// NewClient builds a client from config. Credentials are validated lazily
// on the first request so startup does not depend on the service being
// reachable.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("lock service base URL is required")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("lock service credentials are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		now:    now,
	}, nil
}

// loginResponse is the relevant slice of the authentication payload.
type loginResponse struct {
	Token string `json:"token"`
}

// device is the relevant slice of the device listing payload.
type device struct {
	ID                json.Number `json:"id"`
	Locked            bool        `json:"locked"`
	LastUsedRFID      string      `json:"lastUsedRfid"`
	LastOpenCloseDate string      `json:"lastOpenCloseDate"`
}

// rfidList is one whitelist entry attached to a location.
type rfidList struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	RFIDList string      `json:"rfidList"`
}

// Authenticate obtains a fresh bearer token.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to encode login payload: %w", err)
	}

	loginURL := c.cfg.BaseURL + "/m2mgate/authentication/login?fetch-user-data=false&ui-permissions-only=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&login); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if login.Token == "" {
		return fmt.Errorf("%w: no token in response", ErrAuthFailed)
	}

	c.mu.Lock()
	c.token = login.Token
	c.tokenExpiresAt = c.now().Add(tokenLifetime)
	c.mu.Unlock()

	c.logger.Info("authenticated with lock service")
	return nil
}

// currentToken returns the token when it is still comfortably valid.
func (c *Client) currentToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !c.now().Before(c.tokenExpiresAt.Add(-tokenRefreshMargin)) {
		return "", false
	}
	return c.token, true
}

// ensureAuthenticated reuses a valid token or logs in again.
func (c *Client) ensureAuthenticated(ctx context.Context) (string, error) {
	if token, ok := c.currentToken(); ok {
		return token, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	token, _ := c.currentToken()
	return token, nil
}

// FetchSnapshots polls lock state for every configured unit. Failures are
// per unit: the returned map contains the units that answered, and err is
// non-nil only when no unit produced data.
func (c *Client) FetchSnapshots(ctx context.Context, units []string) (map[string][]detect.LockSnapshot, error) {
	token, err := c.ensureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string][]detect.LockSnapshot)
	for _, unit := range units {
		locks, err := c.fetchUnit(ctx, token, unit)
		if err != nil {
			if errors.Is(err, errTokenExpired) {
				// One re-auth retry per unit.
				if token, err = c.ensureAuthenticatedFresh(ctx); err != nil {
					c.logger.Error("re-authentication failed", zap.Error(err))
					continue
				}
				if locks, err = c.fetchUnit(ctx, token, unit); err == nil {
					snapshots[unit] = locks
					continue
				}
			}
			c.logger.Error("failed to fetch locks for unit",
				zap.String("unit_id", unit),
				zap.Error(err))
			continue
		}
		snapshots[unit] = locks
		c.logger.Info("fetched lock snapshots",
			zap.String("unit_id", unit),
			zap.Int("count", len(locks)))
	}

	if len(snapshots) == 0 {
		return nil, errors.New("no lock data received for any unit")
	}
	return snapshots, nil
}

// errTokenExpired marks a 401 so the caller can retry once after a fresh
// login.
var errTokenExpired = errors.New("token expired")

// ensureAuthenticatedFresh forces a new login regardless of token state.
func (c *Client) ensureAuthenticatedFresh(ctx context.Context) (string, error) {
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	token, _ := c.currentToken()
	return token, nil
}

func (c *Client) fetchUnit(ctx context.Context, token, unit string) ([]detect.LockSnapshot, error) {
	u := c.cfg.BaseURL + "/device/lock?orga-unit-id=" + url.QueryEscape(unit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build device request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errTokenExpired
	default:
		return nil, fmt.Errorf("device request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read device response: %w", err)
	}

	return parseDevices(body)
}

// parseDevices accepts either a single device object or a list.
func parseDevices(body []byte) ([]detect.LockSnapshot, error) {
	var devices []device
	if err := json.Unmarshal(body, &devices); err != nil {
		var single device
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("failed to decode device payload: %w", err)
		}
		devices = []device{single}
	}

	snapshots := make([]detect.LockSnapshot, 0, len(devices))
	for _, d := range devices {
		snapshots = append(snapshots, detect.LockSnapshot{
			LockID:    d.ID.String(),
			Engaged:   d.Locked,
			HolderID:  d.LastUsedRFID,
			EngagedAt: d.LastOpenCloseDate,
		})
	}
	return snapshots, nil
}

// RevokeCredential removes a card UID from the RFID whitelists of every
// configured location. A UID that is not present anywhere still counts as
// revoked.
func (c *Client) RevokeCredential(ctx context.Context, cardUID string) error {
	token, err := c.ensureAuthenticated(ctx)
	if err != nil {
		return err
	}

	removedAnywhere := false
	for _, location := range c.cfg.WhitelistLocations {
		removed, err := c.removeFromLocation(ctx, token, location, cardUID)
		if err != nil {
			c.logger.Error("failed to process whitelist location",
				zap.String("location_id", location),
				zap.Error(err))
			continue
		}
		if removed {
			removedAnywhere = true
		}
	}

	if removedAnywhere {
		c.logger.Info("revoked credential", zap.String("card_uid", cardUID))
	} else {
		c.logger.Info("credential not present in any whitelist",
			zap.String("card_uid", cardUID))
	}
	return nil
}

func (c *Client) removeFromLocation(ctx context.Context, token, location, cardUID string) (bool, error) {
	lists, err := c.fetchRFIDLists(ctx, token, location)
	if err != nil {
		return false, err
	}

	removed := false
	for _, list := range lists {
		if list.ID.String() == "" || list.RFIDList == "" {
			continue
		}
		updated, changed := removeUID(list.RFIDList, cardUID)
		if !changed {
			continue
		}
		if err := c.updateRFIDList(ctx, token, location, list, updated); err != nil {
			c.logger.Error("failed to update RFID list",
				zap.String("location_id", location),
				zap.String("list_id", list.ID.String()),
				zap.Error(err))
			continue
		}
		c.logger.Info("removed card from RFID list",
			zap.String("card_uid", cardUID),
			zap.String("location_id", location),
			zap.String("list_id", list.ID.String()))
		removed = true
	}
	return removed, nil
}

func (c *Client) fetchRFIDLists(ctx context.Context, token, location string) ([]rfidList, error) {
	u := fmt.Sprintf("%s/orga-unit/locations/%s/rfid-lists", c.cfg.BaseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build RFID list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Auth-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("RFID list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RFID list request returned status %d", resp.StatusCode)
	}

	var lists []rfidList
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&lists); err != nil {
		return nil, fmt.Errorf("failed to decode RFID lists: %w", err)
	}
	return lists, nil
}

func (c *Client) updateRFIDList(ctx context.Context, token, location string, list rfidList, updated string) error {
	locationID, _ := strconv.Atoi(location)
	payload, err := json.Marshal(map[string]any{
		"id":         locationID,
		"name":       list.Name,
		"listType":   "WhiteList",
		"rfidList":   updated,
		"locationId": 0,
	})
	if err != nil {
		return fmt.Errorf("failed to encode RFID list payload: %w", err)
	}

	u := fmt.Sprintf("%s/orga-unit/locations/%s/rfid-lists/%s",
		c.cfg.BaseURL, url.PathEscape(location), url.PathEscape(list.ID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build RFID update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("RFID update request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("RFID update returned status %d", resp.StatusCode)
	}
	return nil
}

// removeUID strips one UID from a comma-separated whitelist. The second
// return value reports whether the list actually changed.
func removeUID(list, uid string) (string, bool) {
	parts := strings.Split(list, ",")
	kept := make([]string, 0, len(parts))
	changed := false
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if trimmed == uid {
			changed = true
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, ","), changed
}
