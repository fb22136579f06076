package runstate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_HandleRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "runtime")
	s := NewFileStore(dir)

	if _, ok, err := s.ReadHandle(); err != nil || ok {
		t.Fatalf("expected absent handle before write, ok=%v err=%v", ok, err)
	}
	// write must create the runtime dir on demand
	if err := s.WriteHandle(Handle{PID: 4242}); err != nil {
		t.Fatalf("WriteHandle: %v", err)
	}
	b, err := os.ReadFile(s.PIDPath())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != "4242\n" {
		t.Fatalf("unexpected pid file content %q", b)
	}
	h, ok, err := s.ReadHandle()
	if err != nil || !ok || h.PID != 4242 {
		t.Fatalf("ReadHandle = %+v ok=%v err=%v", h, ok, err)
	}
}

func TestFileStore_HandleWithStartStamp(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.WriteHandle(Handle{PID: 77, Start: 1700000000}); err != nil {
		t.Fatalf("WriteHandle: %v", err)
	}
	h, st, err := s.InspectHandle()
	if err != nil || st != HandleValid {
		t.Fatalf("InspectHandle state=%v err=%v", st, err)
	}
	if h.PID != 77 || h.Start != 1700000000 {
		t.Fatalf("unexpected handle %+v", h)
	}
}

func TestFileStore_MalformedHandle(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"whitespace":  "  \n",
		"non-numeric": "abc",
		"negative":    "-5",
		"zero":        "0",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(t.TempDir())
			if err := os.WriteFile(s.PIDPath(), []byte(content), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, st, err := s.InspectHandle()
			if err != nil {
				t.Fatalf("InspectHandle: %v", err)
			}
			if st != HandleMalformed {
				t.Fatalf("expected malformed, got %v", st)
			}
			if _, ok, _ := s.ReadHandle(); ok {
				t.Fatalf("malformed handle must read as absent")
			}
		})
	}
}

func TestFileStore_ClearIsIdempotent(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.ClearHandle(); err != nil {
		t.Fatalf("clear missing handle: %v", err)
	}
	if err := s.ClearEndpoint(); err != nil {
		t.Fatalf("clear missing endpoint: %v", err)
	}
	_ = s.WriteHandle(Handle{PID: 1})
	_ = s.WriteEndpoint(Endpoint{Address: "http://127.0.0.1:1/"})
	for i := 0; i < 2; i++ {
		if err := s.ClearHandle(); err != nil {
			t.Fatalf("ClearHandle #%d: %v", i, err)
		}
		if err := s.ClearEndpoint(); err != nil {
			t.Fatalf("ClearEndpoint #%d: %v", i, err)
		}
	}
	if _, st, _ := s.InspectHandle(); st != HandleMissing {
		t.Fatalf("expected missing after clear, got %v", st)
	}
}

func TestFileStore_ClearEndpointInvalidatesStaleRecord(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.WriteEndpoint(Endpoint{Address: "http://127.0.0.1:8765"}); err != nil {
		t.Fatalf("WriteEndpoint: %v", err)
	}
	if e, ok, _ := s.ReadEndpoint(); !ok || e.Address != "http://127.0.0.1:8765" {
		t.Fatalf("unexpected endpoint %+v ok=%v", e, ok)
	}
	if err := s.ClearEndpoint(); err != nil {
		t.Fatalf("ClearEndpoint: %v", err)
	}
	if _, ok, err := s.ReadEndpoint(); ok || err != nil {
		t.Fatalf("expected absent endpoint after clear, ok=%v err=%v", ok, err)
	}
}

func TestFileStore_EmptyEndpointIsAbsent(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := os.WriteFile(s.EndpointPath(), []byte("\n  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, err := s.ReadEndpoint(); ok || err != nil {
		t.Fatalf("blank endpoint must be absent, ok=%v err=%v", ok, err)
	}
	if err := s.WriteEndpoint(Endpoint{}); err == nil {
		t.Fatalf("expected error writing empty endpoint")
	}
}

func TestFileStore_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	for i := 1; i <= 3; i++ {
		if err := s.WriteHandle(Handle{PID: i}); err != nil {
			t.Fatalf("WriteHandle: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != PIDFileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected runtime dir content: %v", names)
	}
}

func TestMemoryStore_MatchesFileSemantics(t *testing.T) {
	m := NewMemoryStore()
	if _, st, _ := m.InspectHandle(); st != HandleMissing {
		t.Fatalf("expected missing, got %v", st)
	}
	m.SetRawHandle([]byte(""))
	if _, st, _ := m.InspectHandle(); st != HandleMalformed {
		t.Fatalf("expected malformed, got %v", st)
	}
	if err := m.WriteHandle(Handle{PID: 9}); err != nil {
		t.Fatalf("WriteHandle: %v", err)
	}
	if h, ok, _ := m.ReadHandle(); !ok || h.PID != 9 {
		t.Fatalf("unexpected handle %+v", h)
	}
	_ = m.ClearHandle()
	if m.HasHandle() {
		t.Fatalf("handle should be cleared")
	}
}
