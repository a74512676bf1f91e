package ratelimit

import (
	"strings"
)

// MatchEndpoint resolves the tier for a request path and method: health is
// always unlimited, an exact path+method match wins, then configs whose path
// ends in "/" match as prefixes (so "/runs/" covers "/runs/{id}/cancel").
// Returns nil when no tier applies and the default limit should be used.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == "GET" {
		return &EndpointConfig{}
	}

	for i := range configs {
		config := &configs[i]
		if config.Path == path && config.Method == method {
			return config
		}
	}

	for i := range configs {
		config := &configs[i]
		if config.Method == method && strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			return config
		}
	}

	return nil
}
