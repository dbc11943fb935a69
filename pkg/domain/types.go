package domain

import "time"

// Book is the canonical catalog record. The repository assigns the ID and
// enforces ISBN uniqueness; the search index only mirrors the record.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	PublicationYear int       `json:"publicationYear"`
	ISBN            string    `json:"isbn"`
	Thumbnail       string    `json:"thumbnail"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SearchHit is a book projection returned by the search index, tagged with
// the relevance score and matched-text fragments per field.
type SearchHit struct {
	Book
	Score      float64             `json:"score"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}
