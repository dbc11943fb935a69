package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"bookcatalog/pkg/domain"
)

// stubTransport answers cluster requests in-process. Responses must carry the
// X-Elastic-Product header or the client rejects them.
type stubTransport struct {
	handler func(r *http.Request) (*http.Response, error)
	calls   []string
}

func (s *stubTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
	return s.handler(r)
}

func stubResponse(status int, body string) *http.Response {
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newStubElastic(t *testing.T, handler func(r *http.Request) (*http.Response, error)) (*Elastic, *stubTransport) {
	t.Helper()
	transport := &stubTransport{handler: handler}
	e, err := NewElastic(ElasticConfig{
		Addresses: []string{"http://elastic.test:9200"},
		Transport: transport,
	})
	if err != nil {
		t.Fatalf("NewElastic: %v", err)
	}
	return e, transport
}

func TestEnsureIndexSkipsCreateWhenPresent(t *testing.T) {
	e, transport := newStubElastic(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodHead {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		return stubResponse(http.StatusOK, ""), nil
	})

	if err := e.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	for _, call := range transport.calls {
		if strings.HasPrefix(call, "PUT") {
			t.Fatalf("index exists, create must not run: %v", transport.calls)
		}
	}
}

func TestEnsureIndexCreatesMapping(t *testing.T) {
	var mapping map[string]any
	e, _ := newStubElastic(t, func(r *http.Request) (*http.Response, error) {
		switch r.Method {
		case http.MethodHead:
			return stubResponse(http.StatusNotFound, ""), nil
		case http.MethodPut:
			if r.URL.Path != "/books" {
				t.Fatalf("unexpected create path %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&mapping); err != nil {
				t.Fatalf("decode mapping: %v", err)
			}
			return stubResponse(http.StatusOK, `{"acknowledged":true}`), nil
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
			return nil, nil
		}
	})

	if err := e.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	props, ok := mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	if !ok {
		t.Fatalf("mapping missing properties: %v", mapping)
	}
	for field, wantType := range map[string]string{
		"title":           "text",
		"author":          "text",
		"description":     "text",
		"isbn":            "keyword",
		"publicationYear": "integer",
	} {
		got, ok := props[field].(map[string]any)
		if !ok || got["type"] != wantType {
			t.Errorf("field %s: got %v, want type %s", field, props[field], wantType)
		}
	}
}

func TestIndexBookForcesRefresh(t *testing.T) {
	var gotPath, gotRefresh string
	var doc bookDocument
	e, _ := newStubElastic(t, func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotRefresh = r.URL.Query().Get("refresh")
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			t.Fatalf("decode document: %v", err)
		}
		return stubResponse(http.StatusCreated, `{"result":"created"}`), nil
	})

	book := domain.Book{ID: "b1", Title: "Dune", Author: "Frank Herbert", ISBN: "9780441172719", PublicationYear: 1965}
	if err := e.IndexBook(context.Background(), book); err != nil {
		t.Fatalf("IndexBook: %v", err)
	}
	if gotPath != "/books/_doc/b1" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotRefresh != "true" {
		t.Fatalf("refresh=%q, want true", gotRefresh)
	}
	if doc.Title != "Dune" || doc.PublicationYear != 1965 {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestDeleteBookTreatsMissingAsSuccess(t *testing.T) {
	e, _ := newStubElastic(t, func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusNotFound, `{"result":"not_found"}`), nil
	})
	if err := e.DeleteBook(context.Background(), "ghost"); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
}

func TestSearchQueryShape(t *testing.T) {
	body, err := json.Marshal(searchQuery("dune chronicles"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var q struct {
		Query struct {
			Bool struct {
				Should []map[string]json.RawMessage `json:"should"`
			} `json:"bool"`
		} `json:"query"`
		Size int `json:"size"`
	}
	if err := json.Unmarshal(body, &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(q.Query.Bool.Should) != 2 {
		t.Fatalf("expected 2 should clauses, got %d", len(q.Query.Bool.Should))
	}
	if q.Size != MaxResults {
		t.Fatalf("size=%d, want %d", q.Size, MaxResults)
	}

	var multi struct {
		Query              string   `json:"query"`
		Fields             []string `json:"fields"`
		Fuzziness          string   `json:"fuzziness"`
		Operator           string   `json:"operator"`
		Type               string   `json:"type"`
		MinimumShouldMatch string   `json:"minimum_should_match"`
	}
	if err := json.Unmarshal(q.Query.Bool.Should[0]["multi_match"], &multi); err != nil {
		t.Fatalf("unmarshal multi_match: %v", err)
	}
	wantFields := []string{"title^3", "author^2", "description"}
	if len(multi.Fields) != len(wantFields) {
		t.Fatalf("fields=%v", multi.Fields)
	}
	for i, f := range wantFields {
		if multi.Fields[i] != f {
			t.Errorf("fields[%d]=%q, want %q", i, multi.Fields[i], f)
		}
	}
	if multi.Fuzziness != "AUTO" || multi.Operator != "OR" || multi.Type != "best_fields" {
		t.Fatalf("unexpected multi_match settings: %+v", multi)
	}
	if multi.MinimumShouldMatch != "70%" {
		t.Fatalf("minimum_should_match=%q", multi.MinimumShouldMatch)
	}

	var prefix struct {
		Title struct {
			Query string  `json:"query"`
			Boost float64 `json:"boost"`
		} `json:"title"`
	}
	if err := json.Unmarshal(q.Query.Bool.Should[1]["match_phrase_prefix"], &prefix); err != nil {
		t.Fatalf("unmarshal match_phrase_prefix: %v", err)
	}
	if prefix.Title.Query != "dune chronicles" || prefix.Title.Boost != 4 {
		t.Fatalf("unexpected phrase prefix clause: %+v", prefix)
	}
}

func TestSearchParsesHits(t *testing.T) {
	responseBody := `{
		"hits": {
			"hits": [
				{
					"_id": "b1",
					"_score": 7.2,
					"_source": {"id": "b1", "title": "Dune", "author": "Frank Herbert", "isbn": "9780441172719", "publicationYear": 1965},
					"highlight": {"title": ["<em>Dune</em>"]}
				}
			]
		}
	}`
	e, _ := newStubElastic(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/books/_search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		return stubResponse(http.StatusOK, responseBody), nil
	})

	hits, err := e.Search(context.Background(), "dune")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.ID != "b1" || hit.Title != "Dune" || hit.Score != 7.2 {
		t.Fatalf("unexpected hit %+v", hit)
	}
	if got := hit.Highlights["title"]; len(got) != 1 || got[0] != "<em>Dune</em>" {
		t.Fatalf("unexpected highlights %v", hit.Highlights)
	}
}

func TestSearchSurfacesClusterErrors(t *testing.T) {
	e, _ := newStubElastic(t, func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusInternalServerError, `{"error":"boom"}`), nil
	})
	if _, err := e.Search(context.Background(), "dune"); err == nil {
		t.Fatal("expected error from cluster failure")
	}
}
