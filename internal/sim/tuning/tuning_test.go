package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_OverridesDefaults(t *testing.T) {
	got, err := Parse([]byte("dims: 2\nneighbourhood: moore\nseed_position: [4, -1]\nscheduler: double\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Dims != 2 || got.Neighbourhood != "moore" || got.Scheduler != "double" {
		t.Fatalf("got %+v", got)
	}
	if got.CollisionPolicy != "classify" || got.SnapshotCompression != "zstd" || got.TickBudget != 1000 {
		t.Fatalf("defaults lost: %+v", got)
	}
	if s := got.Seed(); len(s) != 2 || s[0] != 4 || s[1] != -1 {
		t.Fatalf("seed=%v", s)
	}
}

func TestParse_Empty(t *testing.T) {
	got, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Dims != 3 || len(got.Seed()) != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestParse_SchemaRejects(t *testing.T) {
	cases := []string{
		"dims: 0\n",
		"neighbourhood: hex\n",
		"scheduler: lazy\n",
		"collision_policy: pairwise\n",
		"snapshot_compression: lz4\n",
		"tick_rate: 5\n",
		"seed_position: [1, x]\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("%q: expected error", c)
		}
	}
}

func TestParse_SeedDimsMismatch(t *testing.T) {
	_, err := Parse([]byte("dims: 3\nseed_position: [1, 2]\n"))
	if err == nil || !strings.Contains(err.Error(), "seed_position") {
		t.Fatalf("got %v", err)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Dims != len(got.Seed()) {
		t.Fatalf("seed %v for dims %d", got.Seed(), got.Dims)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("got %v", err)
	}
}
