package all

import (
	"slices"
	"testing"

	"amcache/internal/casestore"
)

func TestAllKindsRegistered(t *testing.T) {
	kinds := casestore.Kinds()
	for _, want := range []string{"memory", "sqlite", "postgres", "mssql", "mysql"} {
		if !slices.Contains(kinds, want) {
			t.Errorf("kind %q not registered; have %v", want, kinds)
		}
	}
}
