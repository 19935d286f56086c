package notion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

const testToken = "secret_test"

type fakeDB struct {
	title  string
	schema map[string]string // property name -> type
	pages  []*fakePage
}

type fakePage struct {
	id    string
	props map[string]any
}

// fakeNotion serves the subset of the Notion API the client uses.
type fakeNotion struct {
	mu        sync.Mutex
	pageSize  int
	source    map[string][]map[string]any
	children  map[string][]map[string]any
	dbs       map[string]*fakeDB
	nextID    int
	calls     []string
	rateLimit bool
}

func newFakeNotion(t *testing.T) (*fakeNotion, *Client) {
	t.Helper()
	f := &fakeNotion{
		pageSize: 2,
		source:   map[string][]map[string]any{},
		children: map[string][]map[string]any{},
		dbs:      map[string]*fakeDB{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/databases/{id}/query", f.query)
	mux.HandleFunc("GET /v1/databases/{id}", f.getDatabase)
	mux.HandleFunc("PATCH /v1/databases/{id}", f.patchDatabase)
	mux.HandleFunc("POST /v1/databases", f.createDatabase)
	mux.HandleFunc("GET /v1/blocks/{id}/children", f.listChildren)
	mux.HandleFunc("POST /v1/pages", f.createPage)
	mux.HandleFunc("PATCH /v1/pages/{id}", f.patchPage)

	ts := httptest.NewServer(f.auth(mux))
	t.Cleanup(ts.Close)

	c, err := New(Config{Token: testToken, BaseURL: ts.URL, HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return f, c
}

func (f *fakeNotion) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		limited := f.rateLimit
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "API token is invalid.")
			return
		}
		if r.Header.Get("Notion-Version") == "" {
			writeError(w, http.StatusBadRequest, "missing_version", "Notion-Version header failed validation")
			return
		}
		if limited {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "You have been rate limited.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeNotion) countCalls(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeNotion) addSourcePage(db string, id string, props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source[db] = append(f.source[db], map[string]any{"object": "page", "id": id, "properties": props})
}

func (f *fakeNotion) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeNotion) query(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	var req struct {
		StartCursor string `json:"start_cursor"`
		PageSize    int    `json:"page_size"`
		Filter      struct {
			Property string `json:"property"`
			Title    struct {
				Equals string `json:"equals"`
			} `json:"title"`
		} `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if pages, ok := f.source[id]; ok {
		start, _ := strconv.Atoi(req.StartCursor)
		end := start + f.pageSize
		if end > len(pages) {
			end = len(pages)
		}
		var next any
		if end < len(pages) {
			next = strconv.Itoa(end)
		}
		writeJSON(w, map[string]any{"object": "list", "results": pages[start:end], "has_more": end < len(pages), "next_cursor": next})
		return
	}

	db, ok := f.dbs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "Could not find database with ID: "+id)
		return
	}
	results := []map[string]any{}
	for _, p := range db.pages {
		if req.Filter.Property != "" {
			if titleOf(p.props[req.Filter.Property]) != req.Filter.Title.Equals {
				continue
			}
		}
		results = append(results, map[string]any{"object": "page", "id": p.id, "properties": p.props})
	}
	writeJSON(w, map[string]any{"object": "list", "results": results, "has_more": false, "next_cursor": nil})
}

func (f *fakeNotion) getDatabase(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db, ok := f.dbs[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "no such database")
		return
	}
	props := map[string]any{}
	for name, typ := range db.schema {
		props[name] = map[string]any{"id": name, "name": name, "type": typ}
	}
	writeJSON(w, map[string]any{"object": "database", "id": r.PathValue("id"), "properties": props})
}

func (f *fakeNotion) patchDatabase(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db, ok := f.dbs[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "no such database")
		return
	}
	var req struct {
		Properties map[string]map[string]any `json:"properties"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	for name, cfg := range req.Properties {
		for typ := range cfg {
			db.schema[name] = typ
		}
	}
	writeJSON(w, map[string]any{"object": "database", "id": r.PathValue("id")})
}

func (f *fakeNotion) createDatabase(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req struct {
		Parent struct {
			PageID string `json:"page_id"`
		} `json:"parent"`
		Title []struct {
			Text struct {
				Content string `json:"content"`
			} `json:"text"`
		} `json:"title"`
		Properties map[string]map[string]any `json:"properties"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	db := &fakeDB{schema: map[string]string{}}
	if len(req.Title) > 0 {
		db.title = req.Title[0].Text.Content
	}
	for name, cfg := range req.Properties {
		for typ := range cfg {
			db.schema[name] = typ
		}
	}
	id := f.newID("db")
	f.dbs[id] = db
	f.children[req.Parent.PageID] = append(f.children[req.Parent.PageID], map[string]any{
		"object": "block", "id": id, "type": "child_database",
		"child_database": map[string]any{"title": db.title},
	})
	writeJSON(w, map[string]any{"object": "database", "id": id})
}

func (f *fakeNotion) listChildren(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blocks := f.children[r.PathValue("id")]
	if blocks == nil {
		blocks = []map[string]any{}
	}
	writeJSON(w, map[string]any{"object": "list", "results": blocks, "has_more": false, "next_cursor": nil})
}

func (f *fakeNotion) createPage(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req struct {
		Parent struct {
			DatabaseID string `json:"database_id"`
		} `json:"parent"`
		Properties map[string]map[string]any `json:"properties"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	db, ok := f.dbs[req.Parent.DatabaseID]
	if !ok {
		writeError(w, http.StatusNotFound, "object_not_found", "no such database")
		return
	}
	p := &fakePage{id: f.newID("page"), props: map[string]any{}}
	if err := applyProps(db, p, req.Properties); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	db.pages = append(db.pages, p)
	writeJSON(w, map[string]any{"object": "page", "id": p.id})
}

func (f *fakeNotion) patchPage(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req struct {
		Properties map[string]map[string]any `json:"properties"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	for _, db := range f.dbs {
		for _, p := range db.pages {
			if p.id != r.PathValue("id") {
				continue
			}
			if err := applyProps(db, p, req.Properties); err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", err.Error())
				return
			}
			writeJSON(w, map[string]any{"object": "page", "id": p.id})
			return
		}
	}
	writeError(w, http.StatusNotFound, "object_not_found", "no such page")
}

// applyProps converts request property values into the shape Notion returns.
func applyProps(db *fakeDB, p *fakePage, props map[string]map[string]any) error {
	for name, val := range props {
		typ, ok := db.schema[name]
		if !ok {
			return fmt.Errorf("%s is not a property that exists", name)
		}
		switch typ {
		case "title":
			content := ""
			if parts, ok := val["title"].([]any); ok && len(parts) > 0 {
				text := parts[0].(map[string]any)["text"].(map[string]any)
				content = text["content"].(string)
			}
			p.props[name] = map[string]any{"type": "title", "title": []any{map[string]any{"type": "text", "plain_text": content}}}
		case "number":
			p.props[name] = map[string]any{"type": "number", "number": val["number"]}
		case "date":
			p.props[name] = map[string]any{"type": "date", "date": val["date"]}
		}
	}
	return nil
}

func titleOf(prop any) string {
	m, ok := prop.(map[string]any)
	if !ok {
		return ""
	}
	parts, ok := m["title"].([]any)
	if !ok || len(parts) == 0 {
		return ""
	}
	s, _ := parts[0].(map[string]any)["plain_text"].(string)
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "error", "status": status, "code": code, "message": message})
}
