package app

import "strings"

// BookInput is the full editable field set of a book. PublicationYear is a
// pointer so a missing field is distinguishable from year zero.
type BookInput struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear *int   `json:"publicationYear"`
	ISBN            string `json:"isbn"`
	Thumbnail       string `json:"thumbnail"`
	Description     string `json:"description"`
}

func validateInput(in BookInput) *ValidationError {
	fields := make(map[string]string)
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "title is required"
	}
	if strings.TrimSpace(in.Author) == "" {
		fields["author"] = "author is required"
	}
	if in.PublicationYear == nil {
		fields["publicationYear"] = "publicationYear is required"
	}
	if strings.TrimSpace(in.ISBN) == "" {
		fields["isbn"] = "isbn is required"
	}
	if strings.TrimSpace(in.Thumbnail) == "" {
		fields["thumbnail"] = "thumbnail is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
