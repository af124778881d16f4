// Syncbridge - Realtime Query Sync for Reactive Stores
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncbridge

package convex

import "strings"

// CanonicalUDFPath normalises a query name to "module:function" form. A bare
// module path gets the default export, and a trailing ".js" on the module is
// dropped: "messages.js" becomes "messages:default".
func CanonicalUDFPath(name string) string {
	module, function, found := strings.Cut(name, ":")
	module = strings.TrimSuffix(module, ".js")
	if !found || function == "" {
		function = "default"
	}
	return module + ":" + function
}
