package cmd

import (
	"testing"

	"github.com/google/uuid"
)

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"ingest":  false,
		"ask":     false,
		"mcp":     false,
		"version": false,
	}

	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestLockDocument_Exclusive(t *testing.T) {
	id := uuid.New()

	unlock, err := lockDocument(id)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer unlock()

	if _, err := lockDocument(id); err == nil {
		t.Fatal("second lock succeeded, want exclusion")
	}
}

func TestLockDocument_ReleasedAfterUnlock(t *testing.T) {
	id := uuid.New()

	unlock, err := lockDocument(id)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	unlock()

	unlock2, err := lockDocument(id)
	if err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
	unlock2()
}
