package automation

import (
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/flowqueue/internal/models"
)

// ToCookieParams translates stored cookies into the form the browser accepts.
// Domains are qualified with a leading dot, paths default to "/", expired cookies are dropped
// and cookies without an expiry are injected as session cookies.
func ToCookieParams(cookies []models.Cookie, now time.Time) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.IsExpired(now) {
			continue
		}

		path := c.Path
		if path == "" {
			path = "/"
		}

		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: sameSite(c.SameSite),
		}

		host := strings.TrimPrefix(c.Domain, ".")
		if strings.HasPrefix(c.Name, "__Host-") {
			// Host-prefixed cookies are rejected when a Domain attribute is present
			param.URL = "https://" + host + path
			param.Secure = true
		} else {
			param.Domain = "." + host
		}

		if expiresAt, ok := c.ExpiresAt(); ok {
			t := cdp.TimeSinceEpoch(expiresAt)
			param.Expires = &t
		}

		if param.SameSite == network.CookieSameSiteNone {
			param.Secure = true
		}

		params = append(params, param)
	}
	return params
}

func sameSite(value string) network.CookieSameSite {
	switch strings.ToLower(value) {
	case "strict":
		return network.CookieSameSiteStrict
	case "none", "no_restriction":
		return network.CookieSameSiteNone
	default:
		return network.CookieSameSiteLax
	}
}
