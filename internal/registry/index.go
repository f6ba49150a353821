package registry

import (
	"math"
	"path"
	"sort"
	"strings"
)

// DefaultThreshold is the maximum normalized edit distance for a search
// result to be included at all.
const DefaultThreshold = 0.4

// Index holds the loaded app set and answers ranked fuzzy searches.
// The descriptor slice is immutable after construction.
type Index struct {
	apps      []AppDescriptor
	threshold float64
}

// NewIndex builds an index over apps. A non-positive threshold selects
// DefaultThreshold. Apps keep the order they are given in.
func NewIndex(apps []AppDescriptor, threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Index{apps: apps, threshold: threshold}
}

// All returns every descriptor in registry order.
func (ix *Index) All() []AppDescriptor {
	out := make([]AppDescriptor, len(ix.apps))
	copy(out, ix.apps)
	return out
}

// Result pairs a descriptor with its effective search score.
type Result struct {
	App   AppDescriptor
	Score float64
}

// Search returns descriptors ranked best match first. An empty or
// whitespace-only query returns every app in registry order with score 0.
// Apps scoring worse than the threshold are excluded entirely.
func (ix *Index) Search(query string) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]Result, len(ix.apps))
		for i, app := range ix.apps {
			out[i] = Result{App: app}
		}
		return out
	}

	q := strings.ToLower(query)

	var results []Result
	for _, app := range ix.apps {
		nameScore := Score(q, app.Name)
		descScore := Score(q, app.Description) * 1.5
		catScore := math.Inf(1)
		for _, c := range app.Categories {
			if s := Score(q, c) * 1.2; s < catScore {
				catScore = s
			}
		}

		best := math.Min(nameScore, math.Min(descScore, catScore))
		if best > ix.threshold {
			continue
		}
		results = append(results, Result{App: app, Score: best})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].App.Order < results[j].App.Order
	})

	return results
}

// GetByID returns the descriptor with the given id, or nil.
func (ix *Index) GetByID(id string) *AppDescriptor {
	for i := range ix.apps {
		if ix.apps[i].ID == id {
			return &ix.apps[i]
		}
	}
	return nil
}

// GetByCategory filters apps by category, case-insensitively.
// The special category "all" returns everything.
func (ix *Index) GetByCategory(category string) []AppDescriptor {
	if strings.EqualFold(category, "all") {
		return ix.All()
	}
	var out []AppDescriptor
	for _, app := range ix.apps {
		for _, c := range app.Categories {
			if strings.EqualFold(c, category) {
				out = append(out, app)
				break
			}
		}
	}
	return out
}

// Categories returns the sorted set of every category in the index.
func (ix *Index) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, app := range ix.apps {
		for _, c := range app.Categories {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// EntryURL returns the origin-relative URL of an app's entry page.
func EntryURL(app *AppDescriptor) string {
	return path.Join("apps", app.Folder, app.Entry)
}

// IconURL returns the origin-relative URL of an app's icon.
func IconURL(app *AppDescriptor) string {
	return path.Join("apps", app.Folder, app.Icon)
}
