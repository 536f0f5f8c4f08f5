// Package offline keeps a versioned copy of the app shell so it can be
// served without the network. A Worker fills and prunes the cache; a
// Controller activates workers and answers requests cache first.
package offline

const cachePrefix = "spese-cache-"

// DefaultFontURL is the external stylesheet precached with the shell.
const DefaultFontURL = "https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600&display=swap"

// shellPaths are the app shell resources, relative to the origin.
var shellPaths = []string{
	"/",
	"/index.html",
	"/css/styles.css",
	"/js/db.js",
	"/js/app.js",
	"/js/ui.js",
	"/icons/icon-192.png",
	"/icons/icon-512.png",
	"/manifest.json",
}

// CacheName returns the bucket name for a cache version.
func CacheName(version string) string {
	return cachePrefix + version
}

// Manifest lists every resource to precache: the shell paths plus the font
// stylesheet when fontURL is set.
func Manifest(fontURL string) []string {
	m := append([]string(nil), shellPaths...)
	if fontURL != "" {
		m = append(m, fontURL)
	}
	return m
}
