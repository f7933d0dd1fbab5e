package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/psicash/internal/store/sqlite"
)

func TestMemory_ReadWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data, err := m.Read(ctx)
	if err != nil || data != nil {
		t.Fatalf("empty Read = %q, %v", data, err)
	}

	in := []byte(`{"version":1}`)
	if err := m.Write(ctx, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	in[0] = 'X'

	data, _ = m.Read(ctx)
	if string(data) != `{"version":1}` {
		t.Errorf("Memory kept caller's buffer: %s", data)
	}
	data[0] = 'Y'
	again, _ := m.Read(ctx)
	if string(again) != `{"version":1}` {
		t.Errorf("Memory returned shared buffer: %s", again)
	}
}

func TestFile_ReadWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "psicash.json")
	f := NewFile(path)

	data, err := f.Read(ctx)
	if err != nil || data != nil {
		t.Fatalf("missing file Read = %q, %v", data, err)
	}

	for _, doc := range []string{`{"version":1}`, `{"version":1,"balance":5}`} {
		if err := f.Write(ctx, []byte(doc)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	data, err = f.Read(ctx)
	if err != nil || string(data) != `{"version":1,"balance":5}` {
		t.Fatalf("Read = %q, %v", data, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     *Config
		check   func(t *testing.T, p Persister)
		wantErr string
	}{
		{
			name: "nil config",
			cfg:  nil,
			check: func(t *testing.T, p Persister) {
				if _, ok := p.(*Memory); !ok {
					t.Errorf("got %T, want *Memory", p)
				}
			},
		},
		{
			name: "memory",
			cfg:  &Config{Driver: " Memory "},
			check: func(t *testing.T, p Persister) {
				if _, ok := p.(*Memory); !ok {
					t.Errorf("got %T, want *Memory", p)
				}
			},
		},
		{
			name: "file",
			cfg:  &Config{Driver: "file", DriverConfig: &FileConfig{Path: filepath.Join(dir, "s.json")}},
			check: func(t *testing.T, p Persister) {
				f, ok := p.(*File)
				if !ok || f.Path() != filepath.Join(dir, "s.json") {
					t.Errorf("got %T %+v", p, p)
				}
			},
		},
		{
			name: "sqlite",
			cfg:  &Config{Driver: "sqlite", DriverConfig: &sqlite.Config{Path: filepath.Join(dir, "s.db")}},
			check: func(t *testing.T, p Persister) {
				if _, ok := p.(*sqlite.Store); !ok {
					t.Errorf("got %T, want *sqlite.Store", p)
				}
				if err := p.Write(ctx, []byte(`{}`)); err != nil {
					t.Errorf("Write: %v", err)
				}
			},
		},
		{
			name:    "postgres without dsn",
			cfg:     &Config{Driver: "postgres"},
			wantErr: "requires a dsn",
		},
		{
			name:    "unknown driver",
			cfg:     &Config{Driver: "etcd"},
			wantErr: "unsupported store driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Open(ctx, tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Open() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer func() { _ = p.Close() }()
			tt.check(t, p)
		})
	}
}
