package registry

// AppDescriptor is one launchable app, assembled from a registry entry and
// the app's own manifest. Immutable after load.
type AppDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ShortName   string   `json:"shortName,omitempty"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	Entry       string   `json:"entry"`
	Icon        string   `json:"icon"`
	StorageKeys []string `json:"storageKeys,omitempty"`

	// From the registry entry, not the manifest.
	Folder string `json:"folder"`
	Pinned bool   `json:"pinned"`
	Order  int    `json:"order"`
}

// Document is the registry index fetched once at startup.
type Document struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Apps        []Entry `json:"apps"`
}

// Entry is one row of the registry index.
type Entry struct {
	ID     string `json:"id"`
	Folder string `json:"folder"`
	Pinned bool   `json:"pinned"`
	Hidden bool   `json:"hidden"`
	Order  int    `json:"order"`
}

// Manifest is the per-app document under apps/<folder>/manifest.json.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ShortName   string   `json:"shortName"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	Entry       string   `json:"entry"`
	Icon        string   `json:"icon"`
	StorageKeys []string `json:"storageKeys"`
}
