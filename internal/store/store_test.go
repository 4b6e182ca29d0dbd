package store

import (
	"testing"

	"go.uber.org/zap"
)

type rec struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTest(t)
	in := rec{ID: "a", Value: 7}
	if err := s.PutJSON(PrefixSettlement, "a", in); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	var out rec
	ok, err := s.GetJSON(PrefixSettlement, "a", &out)
	if err != nil || !ok {
		t.Fatalf("GetJSON = %v,%v", ok, err)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestGetAbsent(t *testing.T) {
	s := openTest(t)
	var out rec
	ok, err := s.GetJSON(PrefixSettlement, "missing", &out)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if ok {
		t.Errorf("found a record that was never written")
	}
}

func TestOverwriteKeepsLatest(t *testing.T) {
	s := openTest(t)
	if err := s.PutJSON(PrefixSettlement, "a", rec{ID: "a", Value: 1}); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	if err := s.PutJSON(PrefixSettlement, "a", rec{ID: "a", Value: 2}); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	var out rec
	if _, err := s.GetJSON(PrefixSettlement, "a", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Value != 2 {
		t.Errorf("value = %d, want 2", out.Value)
	}
}

func TestListIsolatesPrefixes(t *testing.T) {
	s := openTest(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.PutJSON(PrefixMatch, id, rec{ID: id}); err != nil {
			t.Fatalf("PutJSON failed: %v", err)
		}
	}
	if err := s.PutJSON(PrefixSettlement, "x", rec{ID: "x"}); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	matches, err := ListJSON[rec](s, PrefixMatch)
	if err != nil {
		t.Fatalf("ListJSON failed: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("got %d match records, want 3", len(matches))
	}
	settlements, err := ListJSON[rec](s, PrefixSettlement)
	if err != nil {
		t.Fatalf("ListJSON failed: %v", err)
	}
	if len(settlements) != 1 {
		t.Errorf("got %d settlement records, want 1", len(settlements))
	}
}
