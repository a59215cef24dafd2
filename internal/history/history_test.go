package history

import (
	"reflect"
	"testing"
	"time"
)

func TestTouchAndLastUsed(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Touch("bobalias"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := LastUsed()
	if err != nil {
		t.Fatalf("last used: %v", err)
	}
	if got["bobalias"] <= 0 {
		t.Fatalf("expected timestamp for bobalias, got %+v", got)
	}
}

func TestSortRecent(t *testing.T) {
	now := time.Now().Unix()
	self := func(s string) string { return s }
	sorted := SortRecent([]string{"db", "api", "cache", "zeta"}, self, map[string]int64{
		"api": now,
		"db":  now - 60,
	})
	want := []string{"api", "db", "cache", "zeta"}
	if !reflect.DeepEqual(sorted, want) {
		t.Fatalf("want %v, got %v", want, sorted)
	}
}

func TestSortRecentKeepsRepeatedAliases(t *testing.T) {
	type row struct {
		alias, kind string
	}
	rows := []row{{"db", "user"}, {"api", "user"}, {"db", "service"}}
	sorted := SortRecent(rows, func(r row) string { return r.alias }, map[string]int64{"db": time.Now().Unix()})
	want := []row{{"db", "user"}, {"db", "service"}, {"api", "user"}}
	if !reflect.DeepEqual(sorted, want) {
		t.Fatalf("want %v, got %v", want, sorted)
	}
}
