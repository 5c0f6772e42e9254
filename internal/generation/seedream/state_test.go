package seedream

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestLoadStateMissingFile(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.True(t, st.Empty())
}

func TestStateRoundTripAndCookieParams(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "state.json")
	st := StateFromCookies([]*network.Cookie{
		{Name: "session_token", Value: "abc", Domain: ".seedream.pro", Path: "/", Expires: float64(now.Add(time.Hour).Unix()), Secure: true, SameSite: network.CookieSameSiteLax},
		{Name: "old", Value: "x", Domain: ".seedream.pro", Path: "/", Expires: float64(now.Add(-time.Hour).Unix())},
		{Name: "tmp", Value: "y", Domain: ".seedream.pro", Path: "/", Session: true},
	})
	require.NoError(t, st.Save(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 3)
	assert.Equal(t, float64(-1), loaded.Cookies[2].Expires)

	params := loaded.CookieParams(now)
	require.Len(t, params, 2)
	assert.Equal(t, "session_token", params[0].Name)
	assert.Equal(t, network.CookieSameSiteLax, params[0].SameSite)
	require.NotNil(t, params[0].Expires)
	assert.Nil(t, params[1].Expires)
}

func TestExpiredAuth(t *testing.T) {
	now := time.Now()

	st := &StorageState{Cookies: []StoredCookie{{Name: "auth_token", Value: signed(t, now.Add(-time.Minute))}}}
	expired, reason := st.ExpiredAuth(now)
	assert.True(t, expired)
	assert.Contains(t, reason, "auth_token")

	st = &StorageState{Cookies: []StoredCookie{
		{Name: "auth_token", Value: signed(t, now.Add(-time.Minute))},
		{Name: "refresh_token", Value: signed(t, now.Add(time.Hour))},
	}}
	expired, _ = st.ExpiredAuth(now)
	assert.False(t, expired)

	st = &StorageState{Cookies: []StoredCookie{{Name: "sid", Value: "opaque"}}}
	expired, _ = st.ExpiredAuth(now)
	assert.False(t, expired)

	st = &StorageState{Cookies: []StoredCookie{{Name: "theme", Value: "dark"}}}
	expired, _ = st.ExpiredAuth(now)
	assert.False(t, expired)

	expired, _ = (&StorageState{}).ExpiredAuth(now)
	assert.True(t, expired)
}
