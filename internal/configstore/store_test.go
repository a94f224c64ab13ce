package configstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	return Open(path, nil), path
}

func TestOpenMissingFileDefaults(t *testing.T) {
	s, _ := tempStore(t)
	doc := s.Snapshot()
	if doc.SearchEnabled {
		t.Fatal("default document must start idle")
	}
	if len(doc.MonitoredChats) != 0 || len(doc.SearchTerms) != 0 || len(doc.SearchResults) != 0 {
		t.Fatalf("default document not empty: %+v", doc)
	}
}

func TestOpenMalformedFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Open(path, nil)
	if s.Snapshot().SearchEnabled {
		t.Fatal("malformed document must fall back to idle default")
	}
}

func TestOpenHonorsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	seed := Document{
		MonitoredChats: []string{"-1001"},
		SearchTerms:    []string{"alpha"},
		SearchEnabled:  true,
	}
	data, _ := json.Marshal(seed)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	s := Open(path, nil)
	doc := s.Snapshot()
	if !doc.SearchEnabled || len(doc.MonitoredChats) != 1 {
		t.Fatalf("existing document mangled: %+v", doc)
	}
}

func TestAddChatDuplicateRefused(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.AddChat("-1001234"); err != nil {
		t.Fatalf("AddChat: %v", err)
	}
	if err := s.AddChat("-1001234"); !errors.Is(err, ErrDuplicateChat) {
		t.Fatalf("duplicate chat error = %v, want ErrDuplicateChat", err)
	}
	if err := s.AddChat("  "); !errors.Is(err, ErrEmptyChat) {
		t.Fatalf("empty chat error = %v, want ErrEmptyChat", err)
	}
}

func TestAddTermCaseFoldsAndRefusesDuplicates(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.AddTerm("  BitCoin "); err != nil {
		t.Fatalf("AddTerm: %v", err)
	}
	doc := s.Snapshot()
	if doc.SearchTerms[0] != "bitcoin" {
		t.Fatalf("term not case-folded: %q", doc.SearchTerms[0])
	}
	if err := s.AddTerm("BITCOIN"); !errors.Is(err, ErrDuplicateTerm) {
		t.Fatalf("duplicate term error = %v, want ErrDuplicateTerm", err)
	}
}

func TestRemoveUnknownEntries(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.RemoveChat("-1"); !errors.Is(err, ErrUnknownChat) {
		t.Fatalf("RemoveChat error = %v", err)
	}
	if err := s.RemoveTerm("x"); !errors.Is(err, ErrUnknownTerm) {
		t.Fatalf("RemoveTerm error = %v", err)
	}
}

func TestUpdatePersistsRoundTrip(t *testing.T) {
	s, path := tempStore(t)
	if err := s.AddChat("-1009"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetScanning(true); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFindings([]core.Finding{{ChatID: "-1009", MessageID: 3, Term: "x"}}); err != nil {
		t.Fatal(err)
	}

	reopened := Open(path, nil)
	doc := reopened.Snapshot()
	if !doc.SearchEnabled || len(doc.MonitoredChats) != 1 || len(doc.SearchResults) != 1 {
		t.Fatalf("round trip lost state: %+v", doc)
	}
	if doc.SearchResults[0].MessageID != 3 {
		t.Fatalf("finding mangled: %+v", doc.SearchResults[0])
	}
}

func TestUpdateErrorLeavesDocumentUntouched(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.AddChat("-1001"); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err := s.Update(func(doc *Document) error {
		doc.MonitoredChats = nil
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v", err)
	}
	if len(s.Snapshot().MonitoredChats) != 1 {
		t.Fatal("failed update mutated the document")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.AddChat("-1001"); err != nil {
		t.Fatal(err)
	}
	doc := s.Snapshot()
	doc.MonitoredChats[0] = "tampered"
	if s.Snapshot().MonitoredChats[0] != "-1001" {
		t.Fatal("snapshot shares backing storage with the store")
	}
}
