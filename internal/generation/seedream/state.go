package seedream

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/golang-jwt/jwt/v5"

	"github.com/joseph-ayodele/seedream-pipeline/internal/runstore"
)

// StorageState is the persisted browser session. The layout matches the
// cookies/origins shape written by common browser automation tools, so an
// existing state.json can be reused.
type StorageState struct {
	Cookies []StoredCookie `json:"cookies"`
	Origins []OriginState  `json:"origins,omitempty"`
}

type StoredCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type OriginState struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadState reads the state file. A missing file yields an empty state.
func LoadState(path string) (*StorageState, error) {
	var st StorageState
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &st, nil
	}
	if err := runstore.ReadJSON(path, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save writes the state atomically.
func (s *StorageState) Save(path string) error {
	return runstore.WriteJSON(path, s)
}

// Empty reports whether there is nothing to restore.
func (s *StorageState) Empty() bool {
	return s == nil || len(s.Cookies) == 0
}

// CookieParams converts stored cookies for Network.setCookies, dropping
// cookies that expired before now.
func (s *StorageState) CookieParams(now time.Time) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		out = append(out, p)
	}
	return out
}

// StateFromCookies builds a state from live browser cookies.
func StateFromCookies(cookies []*network.Cookie) *StorageState {
	st := &StorageState{Cookies: make([]StoredCookie, 0, len(cookies))}
	for _, c := range cookies {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		st.Cookies = append(st.Cookies, StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return st
}

var authCookieHints = []string{"token", "session", "auth", "jwt", "sid"}

func isAuthCookie(name string) bool {
	lower := strings.ToLower(name)
	for _, h := range authCookieHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// ExpiredAuth reports whether every auth-looking cookie is already expired,
// either by its cookie expiry or by the exp claim of a JWT value. The JWT
// signature is not verified; this is only a cheap local pre-check before a
// browser round trip. A state with no auth cookies is not considered expired.
func (s *StorageState) ExpiredAuth(now time.Time) (bool, string) {
	if s.Empty() {
		return true, "no stored cookies"
	}
	var (
		seen    int
		reasons []string
	)
	parser := jwt.NewParser()
	for _, c := range s.Cookies {
		if !isAuthCookie(c.Name) {
			continue
		}
		seen++
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			reasons = append(reasons, fmt.Sprintf("cookie %s expired", c.Name))
			continue
		}
		if strings.Count(c.Value, ".") != 2 {
			return false, ""
		}
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(c.Value, claims); err != nil {
			return false, ""
		}
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			return false, ""
		}
		if exp.Before(now) {
			reasons = append(reasons, fmt.Sprintf("token %s expired at %s", c.Name, exp.UTC().Format(time.RFC3339)))
			continue
		}
		return false, ""
	}
	if seen == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}
