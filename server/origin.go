package server

import (
	"net/http"
	"net/url"
	"strings"
)

// newOriginChecker 构造 Upgrader.CheckOrigin。
// "*" 放行所有来源；未携带 Origin 的请求（非浏览器客户端）放行，与 gorilla 默认行为一致。
func newOriginChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			allowed[n] = struct{}{}
		} else if o != "" {
			Log.Warnf("ignoring invalid origin in configuration: %q", o)
		}
	}

	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if header == "" || allowAll {
			return true
		}
		n, ok := normalizeOrigin(header)
		if ok {
			if _, hit := allowed[n]; hit {
				return true
			}
		}
		Log.Warnf("blocked websocket connection from disallowed origin: %q", header)
		return false
	}
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
