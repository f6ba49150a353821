package cache

import (
	"fmt"

	"github.com/marlapps/marlapps/internal/registry"
)

// RootDocument is the shell entry page, also used as the universal offline
// fallback.
const RootDocument = "index.html"

// shellCore is every shell resource outside the per-app trees, relative to
// the source root.
var shellCore = []string{
	RootDocument,
	"manifest.json",
	"favicon.ico",

	// Theme system
	"themes/tokens.css",
	"themes/dark.css",
	"themes/light.css",
	"themes/futuristic.css",
	"themes/amalfi.css",
	"themes/app-common.css",

	// Launcher
	"launcher/launcher.css",
	"launcher/theme-manager.js",
	"launcher/app-loader.js",
	"launcher/search.js",
	"launcher/settings.js",
	"launcher/launcher.js",
	"launcher/pwa-install.js",

	// App registry
	"registry/apps.json",
}

// appResources is the fixed resource set cached for every app folder.
var appResources = []string{
	"manifest.json",
	"index.html",
	"styles.css",
	"app.js",
	"icon.svg",
}

// ShellManifest builds the full resource list for one cache generation:
// the core shell plus the resource quintuple of every loaded app.
func ShellManifest(apps []registry.AppDescriptor) []string {
	urls := make([]string, 0, len(shellCore)+len(apps)*len(appResources))
	urls = append(urls, shellCore...)
	for _, app := range apps {
		for _, res := range appResources {
			urls = append(urls, fmt.Sprintf("apps/%s/%s", app.Folder, res))
		}
	}
	return urls
}
