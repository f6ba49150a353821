package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/marlapps/marlapps/internal/registry"
	"github.com/marlapps/marlapps/internal/store"
	"github.com/marlapps/marlapps/internal/update"
)

type searchResult struct {
	appView
	Score     float64 `json:"score"`
	Highlight []int   `json:"highlight,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
}

// handleSearch runs the ranked fuzzy search and decorates each hit with
// the matched character positions in its name for highlighting.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	query := r.URL.Query().Get("q")
	results := s.cfg.Index.Search(query)

	resp := searchResponse{Query: query, Results: make([]searchResult, 0, len(results))}
	for _, res := range results {
		sr := searchResult{appView: toAppView(res.App), Score: res.Score}
		if matches := fuzzy.Find(query, []string{res.App.Name}); len(matches) > 0 {
			sr.Highlight = matches[0].MatchedIndexes
		}
		resp.Results = append(resp.Results, sr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var apps []registry.AppDescriptor
	if category := r.URL.Query().Get("category"); category != "" {
		apps = s.cfg.Index.GetByCategory(category)
	} else {
		apps = s.cfg.Index.All()
	}

	views := make([]appView, 0, len(apps))
	for _, app := range apps {
		views = append(views, toAppView(app))
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": views})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.cfg.Index.Categories()})
}

func (s *Server) handleRecents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recents": s.cfg.Recents.TopN(limit, s.cfg.Index),
	})
}

type openRequest struct {
	ID string `json:"id"`
}

// handleOpen resolves an app by id (or best search match), records the
// open event, and returns the entry URL.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "app id is required")
		return
	}

	app := s.cfg.Index.GetByID(req.ID)
	if app == nil {
		if results := s.cfg.Index.Search(req.ID); len(results) > 0 && results[0].Score <= registry.DefaultThreshold {
			app = s.cfg.Index.GetByID(results[0].App.ID)
		}
	}
	if app == nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "no app matches "+req.ID)
		return
	}

	if err := s.cfg.Recents.RecordOpen(app.ID); err != nil {
		// Recency is best-effort UX; the open itself still succeeds.
		s.log.Warn("recording open failed", "app", app.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       app.ID,
		"name":     app.Name,
		"entryUrl": registry.EntryURL(app),
	})
}

type themeRequest struct {
	Theme string `json:"theme"`
	Reset bool   `json:"reset"`
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Theme == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "theme manager not running")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"theme": s.cfg.Theme.Current()})
	case http.MethodPost:
		var req themeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid body")
			return
		}
		var err error
		if req.Reset {
			err = s.cfg.Theme.Reset()
		} else {
			err = s.cfg.Theme.Apply(req.Theme)
		}
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_THEME", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"theme": s.cfg.Theme.Current()})
	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installed": s.cfg.Updates.GetInstalledVersion(r.Context()),
		"status":    s.cfg.Updates.Status(),
	})
}

func (s *Server) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	result, err := s.cfg.Updates.CheckForUpdates(r.Context(), true)
	if err != nil {
		// Soft failure: could not check, distinct from up to date.
		writeJSON(w, http.StatusOK, map[string]any{
			"status": update.StatusCheckFailed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.cfg.Updates.Status(),
		"result": result,
	})
}

// handleUpdateInstall kicks off the install sequence in the background;
// progress reaches clients through the websocket update-state events.
func (s *Server) handleUpdateInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	go func() {
		if err := s.cfg.Updates.InstallUpdate(s.baseCtx); err != nil {
			s.log.Warn("update install ended degraded", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": update.StatusInstalling})
}

func (s *Server) appStorageKeys() []string {
	var keys []string
	for _, app := range s.cfg.Index.All() {
		keys = append(keys, app.StorageKeys...)
	}
	return keys
}

func (s *Server) handleDataExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	doc, err := store.Export(s.cfg.Store, s.appStorageKeys())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
		return
	}

	filename := "marlapps-backup-" + time.Now().UTC().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writeJSON(w, http.StatusOK, doc)
}

// pendingImports holds validated import documents awaiting confirmation.
// Validate-then-confirm-then-apply: the first POST parks the document
// under a one-time token; a second POST with that token applies it.
type pendingImports struct {
	mu   sync.Mutex
	docs map[string]pendingImport
}

type pendingImport struct {
	doc     *store.ExportDocument
	expires time.Time
}

const importConfirmWindow = 5 * time.Minute

func newPendingImports() *pendingImports {
	return &pendingImports{docs: make(map[string]pendingImport)}
}

func (p *pendingImports) park(doc *store.ExportDocument) string {
	token := uuid.NewString()
	p.mu.Lock()
	for t, pi := range p.docs {
		if time.Now().After(pi.expires) {
			delete(p.docs, t)
		}
	}
	p.docs[token] = pendingImport{doc: doc, expires: time.Now().Add(importConfirmWindow)}
	p.mu.Unlock()
	return token
}

func (p *pendingImports) take(token string) (*store.ExportDocument, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi, ok := p.docs[token]
	if !ok || time.Now().After(pi.expires) {
		delete(p.docs, token)
		return nil, false
	}
	delete(p.docs, token)
	return pi.doc, true
}

type importRequest struct {
	Confirm  string                `json:"confirm,omitempty"`
	Document *store.ExportDocument `json:"document,omitempty"`
}

func (s *Server) handleDataImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid body")
		return
	}

	// Second phase: apply a previously validated document.
	if req.Confirm != "" {
		doc, ok := s.imports.take(req.Confirm)
		if !ok {
			writeAPIError(w, http.StatusGone, "CONFIRM_EXPIRED", "confirmation token unknown or expired")
			return
		}
		if err := store.Import(s.cfg.Store, doc, func(store.ImportSummary) bool { return true }); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "IMPORT_FAILED", err.Error())
			return
		}
		if doc.Theme != "" && s.cfg.Theme != nil {
			if err := s.cfg.Theme.Apply(doc.Theme); err != nil {
				s.log.Warn("imported theme not applied", "theme", doc.Theme, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"applied": true})
		return
	}

	// First phase: validate and return a summary plus a confirm token.
	if err := store.ValidateImport(req.Document); err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "INVALID_BACKUP", err.Error())
		return
	}

	token := s.imports.park(req.Document)
	writeJSON(w, http.StatusOK, map[string]any{
		"requiresConfirmation": true,
		"confirm":              token,
		"summary": store.ImportSummary{
			ExportedAt: req.Document.ExportedAt,
			Theme:      req.Document.Theme,
			Recents:    len(req.Document.Recents),
			AppEntries: len(req.Document.AppData),
		},
	})
}
