package s3store

import (
	"fmt"
	"net/url"
	"strings"
)

func normalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// ValidateEndpoint accepts only absolute https URLs without credentials,
// query or fragment. When allowedHosts is non-empty the host must be one of
// them.
func ValidateEndpoint(raw string, allowedHosts []string) error {
	raw = normalizeURL(raw)
	if raw == "" {
		return fmt.Errorf("storage endpoint is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid storage endpoint: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("invalid storage endpoint %q: absolute URL with host is required", raw)
	}
	if u.User != nil {
		return fmt.Errorf("invalid storage endpoint %q: userinfo is not allowed", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid storage endpoint %q: query and fragment are not allowed", raw)
	}
	if strings.ToLower(u.Scheme) != "https" {
		return fmt.Errorf("invalid storage endpoint %q: https is required", raw)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("invalid storage endpoint %q: host is required", raw)
	}
	allowed := normalizeAllowedHosts(allowedHosts)
	if len(allowed) == 0 {
		return nil
	}
	if _, ok := allowed[host]; !ok {
		return fmt.Errorf("invalid storage endpoint %q: host %q is not in the allowed hosts", raw, host)
	}
	return nil
}

func normalizeAllowedHosts(allowedHosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if v == "" {
			continue
		}
		if i := strings.Index(v, ":"); i >= 0 {
			v = v[:i]
		}
		out[v] = struct{}{}
	}
	return out
}
