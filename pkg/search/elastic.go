package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"bookcatalog/pkg/domain"
)

const defaultIndexName = "books"

// ElasticConfig holds connection settings for the Elasticsearch cluster.
// Either Addresses or CloudID must be set.
type ElasticConfig struct {
	Addresses []string
	CloudID   string
	Username  string
	Password  string
	Index     string
	// Transport overrides the HTTP transport; tests use it to stub the
	// cluster.
	Transport http.RoundTripper
}

// Elastic implements Index against an Elasticsearch cluster.
type Elastic struct {
	es    *elasticsearch.Client
	index string
}

// NewElastic creates the client. It does not touch the cluster; call
// EnsureIndex at startup.
func NewElastic(cfg ElasticConfig) (*Elastic, error) {
	index := cfg.Index
	if index == "" {
		index = defaultIndexName
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	return &Elastic{es: es, index: index}, nil
}

// bookDocument is the denormalized shape stored in the index.
type bookDocument struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Description     string `json:"description,omitempty"`
	ISBN            string `json:"isbn"`
	Thumbnail       string `json:"thumbnail"`
	PublicationYear int    `json:"publicationYear"`
}

func documentFromBook(b domain.Book) bookDocument {
	return bookDocument{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		Description:     b.Description,
		ISBN:            b.ISBN,
		Thumbnail:       b.Thumbnail,
		PublicationYear: b.PublicationYear,
	}
}

// EnsureIndex creates the books index with an explicit mapping when it does
// not exist yet. Running it again is a no-op.
func (e *Elastic) EnsureIndex(ctx context.Context) error {
	res, err := e.es.Indices.Exists([]string{e.index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: index exists check: %w", err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("search: index exists check [%s]", res.Status())
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"title":           map[string]any{"type": "text"},
				"author":          map[string]any{"type": "text"},
				"description":     map[string]any{"type": "text"},
				"isbn":            map[string]any{"type": "keyword"},
				"thumbnail":       map[string]any{"type": "keyword"},
				"publicationYear": map[string]any{"type": "integer"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}
	created, err := e.es.Indices.Create(
		e.index,
		e.es.Indices.Create.WithBody(bytes.NewReader(body)),
		e.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: create index: %w", err)
	}
	defer created.Body.Close()
	if created.IsError() {
		raw, _ := io.ReadAll(created.Body)
		return fmt.Errorf("search: create index [%s]: %s", created.Status(), raw)
	}
	return nil
}

// IndexBook upserts the document with a forced refresh so the book is
// searchable as soon as the call returns.
func (e *Elastic) IndexBook(ctx context.Context, b domain.Book) error {
	body, err := json.Marshal(documentFromBook(b))
	if err != nil {
		return err
	}
	res, err := e.es.Index(
		e.index,
		bytes.NewReader(body),
		e.es.Index.WithDocumentID(b.ID),
		e.es.Index.WithRefresh("true"),
		e.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: index request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: index error [%s]: %s", res.Status(), raw)
	}
	return nil
}

// UpdateBook applies a partial-document update carrying the editable fields.
func (e *Elastic) UpdateBook(ctx context.Context, b domain.Book) error {
	body, err := json.Marshal(map[string]any{
		"doc": map[string]any{
			"title":           b.Title,
			"author":          b.Author,
			"description":     b.Description,
			"isbn":            b.ISBN,
			"thumbnail":       b.Thumbnail,
			"publicationYear": b.PublicationYear,
		},
	})
	if err != nil {
		return err
	}
	res, err := e.es.Update(e.index, b.ID, bytes.NewReader(body), e.es.Update.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: update request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: update error [%s]: %s", res.Status(), raw)
	}
	return nil
}

// DeleteBook removes the entry. A 404 is treated as success so replayed
// deletes stay idempotent.
func (e *Elastic) DeleteBook(ctx context.Context, id string) error {
	res, err := e.es.Delete(e.index, id, e.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: delete request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: delete error [%s]: %s", res.Status(), raw)
	}
	return nil
}

// searchQuery builds the ranked query: a disjunction of a weighted fuzzy
// multi-field match (title x3, author x2, description x1, best field wins,
// 70% of terms required) and a strongly boosted phrase-prefix on title.
func searchQuery(q string) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{
						"multi_match": map[string]any{
							"query":                q,
							"fields":               []string{"title^3", "author^2", "description"},
							"fuzziness":            "AUTO",
							"operator":             "OR",
							"type":                 "best_fields",
							"minimum_should_match": "70%",
						},
					},
					map[string]any{
						"match_phrase_prefix": map[string]any{
							"title": map[string]any{
								"query": q,
								"boost": 4,
							},
						},
					},
				},
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{
				"title":       map[string]any{},
				"author":      map[string]any{},
				"description": map[string]any{},
			},
		},
		"size": MaxResults,
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
		},
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID        string              `json:"_id"`
			Score     float64             `json:"_score"`
			Source    bookDocument        `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search executes the ranked query and maps hits to domain results.
func (e *Elastic) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(searchQuery(query)); err != nil {
		return nil, err
	}
	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(e.index),
		e.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search: query request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: query error [%s]: %s", res.Status(), raw)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	hits := make([]domain.SearchHit, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		hits = append(hits, domain.SearchHit{
			Book: domain.Book{
				ID:              hit.Source.ID,
				Title:           hit.Source.Title,
				Author:          hit.Source.Author,
				Description:     hit.Source.Description,
				ISBN:            hit.Source.ISBN,
				Thumbnail:       hit.Source.Thumbnail,
				PublicationYear: hit.Source.PublicationYear,
			},
			Score:      hit.Score,
			Highlights: hit.Highlight,
		})
	}
	return hits, nil
}
