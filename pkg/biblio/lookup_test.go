package biblio

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/folio-graph/folio/pkg/common"
)

// fakeLibrary serves a tiny fixed catalogue.
func fakeLibrary(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		title := q.Get("title") + q.Get("q")
		switch title {
		case "Dune", "dune herbert":
			_, _ = io.WriteString(w, `{"numFound":1,"docs":[{"key":"/works/OL893415W","title":"Dune","author_name":["Frank Herbert"],"cover_i":11481354,"first_publish_year":1965}]}`)
		case "Untitled Draft":
			_, _ = io.WriteString(w, `{"numFound":1,"docs":[{"key":"/works/OL1W","title":"Untitled Draft"}]}`)
		default:
			_, _ = io.WriteString(w, `{"numFound":0,"docs":[]}`)
		}
	})
	mux.HandleFunc("/search/authors.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Frank Herbert" {
			_, _ = io.WriteString(w, `{"docs":[{"key":"OL79034A","name":"Frank Herbert"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"docs":[]}`)
	})
	mux.HandleFunc("/works/OL893415W.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"title":"Dune","covers":[-1, 8231856]}`)
	})
	mux.HandleFunc("/authors/OL79034A.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"Frank Herbert","photos":[6257003]}`)
	})
	mux.HandleFunc("/authors/OL2A.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"Nobody"}`)
	})
	return mux
}

func TestFindKey(t *testing.T) {
	c, _ := newTestClient(t, fakeLibrary(t))

	tests := []struct {
		name  string
		typ   common.NodeType
		label string
		hint  string
		want  string
	}{
		{"book", common.NodeTypeBook, "Dune", "Frank Herbert", "OL893415W"},
		{"author", common.NodeTypeAuthor, "Frank Herbert", "", "OL79034A"},
		{"unknown book", common.NodeTypeBook, "Nothing Here", "", ""},
		{"unknown author", common.NodeTypeAuthor, "Nobody Known", "", ""},
		{"concept", common.NodeTypeConcept, "Ecology", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FindKey(context.Background(), tt.typ, tt.label, tt.hint)
			if err != nil {
				t.Fatalf("FindKey() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("FindKey() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := c.FindKey(context.Background(), common.NodeTypeBook, "  ", ""); err == nil {
		t.Fatal("expected validation error for empty label")
	}
}

func TestImageURL(t *testing.T) {
	c, _ := newTestClient(t, fakeLibrary(t))

	tests := []struct {
		name  string
		typ   common.NodeType
		label string
		key   string
		want  string
	}{
		{"book by key", common.NodeTypeBook, "Dune", "/works/OL893415W", "https://covers.test/b/id/8231856-L.jpg"},
		{"book by title", common.NodeTypeBook, "Dune", "", "https://covers.test/b/id/11481354-L.jpg"},
		{"book without cover", common.NodeTypeBook, "Untitled Draft", "", ""},
		{"author photo", common.NodeTypeAuthor, "Frank Herbert", "OL79034A", "https://covers.test/a/id/6257003-L.jpg"},
		{"author without photo", common.NodeTypeAuthor, "Nobody", "OL2A", ""},
		{"author without key", common.NodeTypeAuthor, "Nobody", "", ""},
		{"author unknown key", common.NodeTypeAuthor, "Nobody", "OL404A", ""},
		{"concept", common.NodeTypeConcept, "Ecology", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ImageURL(context.Background(), tt.typ, tt.label, tt.key)
			if err != nil {
				t.Fatalf("ImageURL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ImageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSearchBook(t *testing.T) {
	c, _ := newTestClient(t, fakeLibrary(t))

	got, err := c.SearchBook(context.Background(), "dune herbert")
	if err != nil {
		t.Fatalf("SearchBook() error = %v", err)
	}
	want := BookMatch{
		Title:       "Dune",
		Author:      "Frank Herbert",
		CoverURL:    "https://covers.test/b/id/11481354-L.jpg",
		ExternalKey: "OL893415W",
	}
	if got == nil || *got != want {
		t.Fatalf("SearchBook() = %+v, want %+v", got, want)
	}

	none, err := c.SearchBook(context.Background(), "zzzz")
	if err != nil || none != nil {
		t.Fatalf("SearchBook(no match) = %+v, %v; want nil, nil", none, err)
	}
}

func TestTrimKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/works/OL1W", "OL1W"},
		{"OL2A", "OL2A"},
		{" /authors/X ", "X"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := trimKey(tt.in); got != tt.want {
			t.Errorf("trimKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
