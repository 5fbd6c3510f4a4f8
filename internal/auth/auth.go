// Package auth implements the device-code OAuth2 sequence used to sign
// in, and the State the rest of the miner reads session identifiers from.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sirupsen/logrus"
)

const (
	deviceCodeURL = "https://id.twitch.tv/oauth2/device"
	tokenURL      = "https://id.twitch.tv/oauth2/token"
	validateURL   = "https://id.twitch.tv/oauth2/validate"
	homeURL       = "https://www.twitch.tv/"
	clientID      = "kd1unb4b3q4t58fwlpcbzcbnm76a8fp"

	devicePollTimeout = 15 * time.Minute
)

// User is the signed-in account's identity.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// DeviceCode is returned by StartDeviceFlow and shown to the user as the
// code to enter at VerificationURI.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
}

// State holds the authenticated session identifiers every other
// component (gql, pubsub) needs. Validate holds mu only while reading or
// writing fields, so concurrent Validate calls each send their own
// validation request.
type State struct {
	mu sync.Mutex

	httpClient *http.Client

	SessionID string
	DeviceID  string
	Token     *oauth2.Token
	User      *User
}

// New returns an empty State; call Validate or StartDeviceFlow+PollForToken
// before using it. Its http.Client carries a cookie jar, since both device
// id discovery and auth-token cookie adoption depend on one being set.
func New() *State {
	jar, _ := cookiejar.New(nil)
	return &State{httpClient: &http.Client{Timeout: 30 * time.Second, Jar: jar}}
}

// Jar exposes the session's cookie jar so the caller can persist it
// between runs.
func (s *State) Jar() http.CookieJar {
	return s.httpClient.Jar
}

// StartDeviceFlow requests a fresh device code from Twitch.
func (s *State) StartDeviceFlow(ctx context.Context) (*DeviceCode, error) {
	data := url.Values{}
	data.Set("client_id", clientID)
	data.Set("scopes", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deviceCodeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device code request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device code request failed with status %d", resp.StatusCode)
	}

	var out struct {
		DeviceCode      string `json:"device_code"`
		Interval        int    `json:"interval"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &DeviceCode{
		DeviceCode:      out.DeviceCode,
		UserCode:        out.UserCode,
		VerificationURI: out.VerificationURI,
		Interval:        time.Duration(out.Interval) * time.Second,
	}, nil
}

// PollForToken polls the token endpoint at dc.Interval until the user
// approves the device code, the request is denied, or devicePollTimeout
// elapses. On success it stores the resulting token and fetches the
// user's identity.
func (s *State) PollForToken(ctx context.Context, dc *DeviceCode) error {
	ticker := time.NewTicker(dc.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(devicePollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("device code approval timed out")
		case <-ticker.C:
			token, done, err := s.pollOnce(ctx, dc.DeviceCode)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
			s.mu.Lock()
			s.Token = token
			s.mu.Unlock()
			user, err := s.fetchUser(ctx, token.AccessToken)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.User = user
			s.mu.Unlock()
			return nil
		}
	}
}

func (s *State) pollOnce(ctx context.Context, deviceCode string) (*oauth2.Token, bool, error) {
	data := url.Values{}
	data.Set("client_id", clientID)
	data.Set("device_code", deviceCode)
	data.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("token poll: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, err
	}

	switch out.Error {
	case "":
	case "authorization_pending":
		return nil, false, nil
	case "slow_down":
		logrus.Debug("device code polling too fast, backing off")
		return nil, false, nil
	case "expired_token":
		return nil, false, fmt.Errorf("device code expired")
	case "access_denied":
		return nil, false, fmt.Errorf("user denied authorization")
	default:
		return nil, false, fmt.Errorf("device token error: %s", out.Error)
	}
	if out.AccessToken == "" {
		return nil, false, nil
	}

	return &oauth2.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		Expiry:       time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, true, nil
}

// Validate confirms the stored token is still accepted by Twitch and
// records the user identity it belongs to. A 401 clears the session and
// returns false; any other non-200 status returns false as well.
func (s *State) Validate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	token := s.Token
	s.mu.Unlock()
	if token == nil {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "OAuth "+token.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.Clear()
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var out struct {
		Login  string `json:"login"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.User = &User{ID: out.UserID, Login: out.Login, DisplayName: out.Login}
	s.mu.Unlock()
	return true, nil
}

func (s *State) fetchUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token validate failed with status %d", resp.StatusCode)
	}

	var out struct {
		Login  string `json:"login"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &User{ID: out.UserID, Login: out.Login, DisplayName: out.Login}, nil
}

// Invalidate clears just the access token, so the next Validate call
// returns false and the caller has to sign in again.
func (s *State) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = nil
}

// Clear drops the entire session: token, user identity, session and
// device identifiers.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = nil
	s.User = nil
	s.SessionID = ""
	s.DeviceID = ""
}

// AccessToken returns the current access token, or "" if not signed in.
func (s *State) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// LoggedIn reports whether a token and user identity are present.
func (s *State) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Token != nil && s.User != nil
}

// EnsureIdentifiers fills in SessionID with a fresh random value if not
// already set, and resolves DeviceID by fetching the platform's home page
// and reading the unique_id cookie it sets — falling back to a random
// value only if that request fails, matching what a real client persists
// once per install rather than once per process.
func (s *State) EnsureIdentifiers(ctx context.Context) error {
	s.mu.Lock()
	if s.SessionID == "" {
		s.SessionID = randomHex(8)
	}
	needDeviceID := s.DeviceID == ""
	s.mu.Unlock()
	if !needDeviceID {
		return nil
	}

	deviceID, err := s.fetchDeviceID(ctx)
	if err != nil {
		logrus.WithError(err).Warn("auth: failed to fetch home page for device id, generating a random one")
		deviceID = randomHex(8)
	}

	s.mu.Lock()
	s.DeviceID = deviceID
	s.mu.Unlock()
	return nil
}

func (s *State) fetchDeviceID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, homeURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	for _, c := range s.cookiesLocked() {
		if c.Name == "unique_id" && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("auth: home page did not set a unique_id cookie")
}

// AdoptCookieToken looks for an auth-token cookie already present in the
// jar (left behind by a prior browser-based login to twitch.tv) and, if
// one is found and no token is otherwise loaded, adopts it as the access
// token so a fresh device-code flow isn't needed.
func (s *State) AdoptCookieToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Token != nil {
		return false
	}
	for _, c := range s.cookiesLocked() {
		if c.Name == "auth-token" && c.Value != "" {
			s.Token = &oauth2.Token{AccessToken: c.Value, TokenType: "OAuth"}
			return true
		}
	}
	return false
}

func (s *State) cookiesLocked() []*http.Cookie {
	if s.httpClient.Jar == nil {
		return nil
	}
	u, _ := url.Parse(homeURL)
	return s.httpClient.Jar.Cookies(u)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}
