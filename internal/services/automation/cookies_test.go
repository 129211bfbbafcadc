package automation

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/flowqueue/internal/models"
)

func TestToCookieParams(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	future := float64(now.Add(24 * time.Hour).Unix())

	params := ToCookieParams([]models.Cookie{
		{Name: "SID", Value: "1", Domain: "google.com", Expires: future, HTTPOnly: true, Secure: true, SameSite: "strict"},
		{Name: "NID", Value: "2", Domain: ".google.com", Path: "/search", Expires: -1, SameSite: "no_restriction"},
		{Name: "OLD", Value: "3", Domain: ".google.com", Expires: float64(now.Unix())},
		{Name: "__Host-GAPS", Value: "4", Domain: "accounts.google.com", Secure: true},
	}, now)

	require.Len(t, params, 3, "expired cookie dropped")

	sid := params[0]
	assert.Equal(t, ".google.com", sid.Domain)
	assert.Equal(t, "/", sid.Path)
	assert.Equal(t, network.CookieSameSiteStrict, sid.SameSite)
	assert.True(t, sid.HTTPOnly)
	require.NotNil(t, sid.Expires)
	assert.Equal(t, now.Add(24*time.Hour).Unix(), sid.Expires.Time().Unix())

	nid := params[1]
	assert.Equal(t, ".google.com", nid.Domain, "already-qualified domain unchanged")
	assert.Equal(t, "/search", nid.Path)
	assert.Equal(t, network.CookieSameSiteNone, nid.SameSite)
	assert.True(t, nid.Secure, "SameSite=None requires Secure")
	assert.Nil(t, nid.Expires, "session cookie has no expiry")

	host := params[2]
	assert.Empty(t, host.Domain)
	assert.Equal(t, "https://accounts.google.com/", host.URL)
	assert.Equal(t, network.CookieSameSiteLax, host.SameSite)
}
