package connection

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// BuildURL returns {wsBase}{path}?subscriberId=...&token=... with http(s)
// bases rewritten to ws(s). The token parameter is omitted when empty.
func BuildURL(wsBase, path, subscriberID, token string) (string, error) {
	if wsBase == "" {
		return "", errors.New("websocket base url is required")
	}

	u, err := url.Parse(wsBase)
	if err != nil {
		return "", fmt.Errorf("parse websocket base url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("websocket base url %q has no host", wsBase)
	}

	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""

	q := url.Values{}
	q.Set("subscriberId", subscriberID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}
