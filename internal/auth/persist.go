package auth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// cookieHomeURL is the origin cookies are saved/restored against; every
// cookie this package cares about (unique_id, auth-token) is scoped to
// twitch.tv.
var cookieHomeURL = mustParseURL(homeURL)

func mustParseURL(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// SaveCookies persists the jar's twitch.tv cookies to path, called at
// shutdown and after each successful login so device id and session
// cookies survive a restart.
func SaveCookies(path string, jar http.CookieJar) error {
	if jar == nil {
		return nil
	}
	data, err := json.MarshalIndent(jar.Cookies(cookieHomeURL), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadCookies restores cookies previously saved by SaveCookies into jar.
// A missing file is not an error: it just means there's nothing to adopt
// yet.
func LoadCookies(path string, jar http.CookieJar) error {
	if jar == nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var cookies []*http.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return err
	}
	jar.SetCookies(cookieHomeURL, cookies)
	return nil
}

type storedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Expiry       int64  `json:"expiry_unix"`
}

// SaveToken persists token to path for reuse across restarts.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(storedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry.Unix(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadToken reads back a token saved by SaveToken, or returns an error if
// none is present.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
	}, nil
}

// DeleteToken removes a previously saved token file.
func DeleteToken(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
