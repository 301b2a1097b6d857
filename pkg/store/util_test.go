package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		chunkSize int
		want      [][2]int
	}{
		{"empty", 0, 10, nil},
		{"single chunk", 3, 10, [][2]int{{0, 3}}},
		{"exact chunks", 4, 2, [][2]int{{0, 2}, {2, 4}}},
		{"remainder", 5, 2, [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{"zero size is one chunk", 5, 0, [][2]int{{0, 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			err := ChunkRange(tt.total, tt.chunkSize, func(start, end int) error {
				got = append(got, [2]int{start, end})
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunkRangeStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := ChunkRange(10, 3, func(start, end int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDedupeNodes(t *testing.T) {
	in := []ArchivedNode{
		{NodeID: "a", Label: "Dune"},
		{NodeID: "", Label: "nameless"},
		{NodeID: "b", Label: "Frank Herbert"},
		{NodeID: "a", Label: "Dune again"},
	}
	got := DedupeNodes(in)
	if len(got) != 2 || got[0].Label != "Dune" || got[1].NodeID != "b" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if DedupeNodes(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}
