// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package config

import (
	"fmt"
	"net/url"
)

// validateStoreURL validates the store deployment URL.
// Accepts http(s) deployment URLs and ws(s) sync endpoints, with a host and
// no query string.
func validateStoreURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	switch parsedURL.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%s scheme must be http, https, ws or wss, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}

	return nil
}
