package biblio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/folio-graph/folio/pkg/common"
)

// BookMatch is the best match of a free-text book search.
type BookMatch struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	CoverURL    string `json:"coverUrl,omitempty"`
	ExternalKey string `json:"externalKey"`
}

type searchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []searchDoc `json:"docs"`
}

type searchDoc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorName       []string `json:"author_name"`
	CoverID          int      `json:"cover_i"`
	FirstPublishYear int      `json:"first_publish_year"`
}

type authorSearchResponse struct {
	Docs []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"docs"`
}

type workDoc struct {
	Title  string `json:"title"`
	Covers []int  `json:"covers"`
}

type authorDoc struct {
	Name   string `json:"name"`
	Photos []int  `json:"photos"`
}

const searchFields = "key,title,author_name,cover_i,first_publish_year"

// FindKey resolves the canonical key of a book or author. For books, hint
// is an author name that narrows the search. Concepts have no key. An
// empty key with a nil error means the service knows no match.
func (c *Client) FindKey(ctx context.Context, t common.NodeType, label, hint string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", common.NewValidationError("label", "must not be empty")
	}

	switch t {
	case common.NodeTypeBook:
		doc, err := c.searchWork(ctx, url.Values{"title": {label}}, hint)
		if err != nil || doc == nil {
			return "", err
		}
		return trimKey(doc.Key), nil
	case common.NodeTypeAuthor:
		q := url.Values{"q": {label}, "limit": {"1"}}
		body, err := c.Fetch(ctx, buildPath("/search/authors.json", q))
		if err != nil {
			return "", err
		}
		var res authorSearchResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return "", &common.ParseError{Raw: string(body), Err: err}
		}
		if len(res.Docs) == 0 {
			return "", nil
		}
		return trimKey(res.Docs[0].Key), nil
	default:
		return "", nil
	}
}

// ImageURL returns a cover for books or a photo for authors. key is used
// when known; books without a key fall back to a title search. An empty
// URL with a nil error means there is no image.
func (c *Client) ImageURL(ctx context.Context, t common.NodeType, label, key string) (string, error) {
	key = trimKey(key)

	switch t {
	case common.NodeTypeBook:
		if key != "" {
			body, err := c.Fetch(ctx, "/works/"+url.PathEscape(key)+".json")
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return "", err
			}
			if err == nil {
				var w workDoc
				if err := json.Unmarshal(body, &w); err != nil {
					return "", &common.ParseError{Raw: string(body), Err: err}
				}
				if id := firstPositive(w.Covers); id > 0 {
					return c.coverURL("b", id), nil
				}
			}
		}
		if strings.TrimSpace(label) == "" {
			return "", nil
		}
		doc, err := c.searchWork(ctx, url.Values{"title": {strings.TrimSpace(label)}}, "")
		if err != nil || doc == nil || doc.CoverID <= 0 {
			return "", err
		}
		return c.coverURL("b", doc.CoverID), nil
	case common.NodeTypeAuthor:
		if key == "" {
			return "", nil
		}
		body, err := c.Fetch(ctx, "/authors/"+url.PathEscape(key)+".json")
		if errors.Is(err, common.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		var a authorDoc
		if err := json.Unmarshal(body, &a); err != nil {
			return "", &common.ParseError{Raw: string(body), Err: err}
		}
		if id := firstPositive(a.Photos); id > 0 {
			return c.coverURL("a", id), nil
		}
		return "", nil
	default:
		return "", nil
	}
}

// SearchBook resolves a free-text query to the best matching book. It
// returns nil when nothing matches.
func (c *Client) SearchBook(ctx context.Context, query string) (*BookMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.NewValidationError("query", "must not be empty")
	}

	doc, err := c.searchWork(ctx, url.Values{"q": {query}}, "")
	if err != nil || doc == nil {
		return nil, err
	}
	return c.toMatch(doc), nil
}

// LookupBook resolves a (title, author) pair, as produced by the
// recommendation service, to a concrete book. It returns nil when nothing
// matches.
func (c *Client) LookupBook(ctx context.Context, title, author string) (*BookMatch, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, common.NewValidationError("title", "must not be empty")
	}
	doc, err := c.searchWork(ctx, url.Values{"title": {title}}, author)
	if err != nil || doc == nil {
		return nil, err
	}
	return c.toMatch(doc), nil
}

func (c *Client) searchWork(ctx context.Context, q url.Values, author string) (*searchDoc, error) {
	if author = strings.TrimSpace(author); author != "" {
		q.Set("author", author)
	}
	q.Set("limit", "1")
	q.Set("fields", searchFields)

	body, err := c.Fetch(ctx, buildPath("/search.json", q))
	if err != nil {
		return nil, err
	}
	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &common.ParseError{Raw: string(body), Err: err}
	}
	for i := range res.Docs {
		if res.Docs[i].Key != "" && res.Docs[i].Title != "" {
			return &res.Docs[i], nil
		}
	}
	return nil, nil
}

func (c *Client) toMatch(doc *searchDoc) *BookMatch {
	m := &BookMatch{
		Title:       doc.Title,
		ExternalKey: trimKey(doc.Key),
	}
	if len(doc.AuthorName) > 0 {
		m.Author = doc.AuthorName[0]
	}
	if doc.CoverID > 0 {
		m.CoverURL = c.coverURL("b", doc.CoverID)
	}
	return m
}

func (c *Client) coverURL(kind string, id int) string {
	return fmt.Sprintf("%s/%s/id/%s-L.jpg", c.coversURL, kind, strconv.Itoa(id))
}

// trimKey turns "/works/OL45804W" into "OL45804W".
func trimKey(key string) string {
	key = strings.TrimSpace(key)
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func firstPositive(ids []int) int {
	for _, id := range ids {
		if id > 0 {
			return id
		}
	}
	return 0
}
