package correlation

import (
	"fmt"
	"strings"

	"staycheck/internal/extract"
)

// Key joins a list row to its map marker: title compared case-insensitively, price exactly.
type Key struct {
	Title string `json:"title"`
	Price string `json:"price"`
}

// KeyOf builds a key from extracted facts.
func KeyOf(title extract.Title, price extract.Money) Key {
	return Key{Title: strings.TrimSpace(title.Text), Price: strings.TrimSpace(price.Raw)}
}

// Matches reports whether both keys denote the same entity.
func (k Key) Matches(other Key) bool {
	return k.Price == other.Price && strings.EqualFold(k.Title, other.Title)
}

// IsZero reports whether the key has no title or no price.
func (k Key) IsZero() bool {
	return k.Title == "" || k.Price == ""
}

func (k Key) String() string {
	return fmt.Sprintf("title=%q price=%q", k.Title, k.Price)
}

// Summary is one rendered entity as read at a single instant. It is never cached across
// reads since the page may re-render between them.
type Summary struct {
	// Index is the entity's position in the rendered collection.
	Index int            `json:"index"`
	Key   Key            `json:"key"`
	Facts []extract.Fact `json:"-"`
	Text  string         `json:"text,omitempty"`
}

// NotFoundError reports that no candidate carries the searched key.
type NotFoundError struct {
	Key      Key
	Searched int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no entity matches %s among %d candidates", e.Key, e.Searched)
}

// AmbiguousError reports that more than one candidate carries the searched key.
type AmbiguousError struct {
	Key     Key
	Indexes []int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d entities match %s (indexes %v)", len(e.Indexes), e.Key, e.Indexes)
}

// FindCorresponding returns the single candidate whose key matches key. Zero matches is a
// NotFoundError and more than one is an AmbiguousError, since a list row must map to
// exactly one marker.
func FindCorresponding(candidates []Summary, key Key) (Summary, error) {
	var (
		found   Summary
		matches []int
	)
	for _, c := range candidates {
		if !c.Key.Matches(key) {
			continue
		}
		if len(matches) == 0 {
			found = c
		}
		matches = append(matches, c.Index)
	}

	switch len(matches) {
	case 0:
		return Summary{}, &NotFoundError{Key: key, Searched: len(candidates)}
	case 1:
		return found, nil
	}
	return Summary{}, &AmbiguousError{Key: key, Indexes: matches}
}
