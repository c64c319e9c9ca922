package cmd

import (
	"testing"
	"time"

	"github.com/danmuck/collsim/internal/experiment"
	"github.com/danmuck/collsim/internal/plan"
	"github.com/danmuck/collsim/internal/testutil/testlog"
	"github.com/danmuck/collsim/internal/topology"
)

func TestLoadRunFileOverlaysOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)

	path := writeFile(t, "run.toml", `family = "broadcast-tree"
layout = "star_as"
groups = 3
jitter = "250us"
timeout = "5s"
admin_addr = " 127.0.0.1:7071 "
`)
	file, err := loadRunFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := file.Experiment
	def := experiment.DefaultConfig()
	if cfg.Family != plan.FamilyBroadcastTree || cfg.Layout != topology.LayoutStarAS {
		t.Fatalf("unexpected family/layout %s/%s", cfg.Family, cfg.Layout)
	}
	if cfg.Groups != 3 || cfg.Jitter != 250*time.Microsecond || cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.N != def.N || cfg.Runs != def.Runs || cfg.SendBuffer != def.SendBuffer || cfg.Branching != def.Branching {
		t.Fatalf("undefined keys changed defaults %+v", cfg)
	}
	if file.AdminAddr != "127.0.0.1:7071" {
		t.Fatalf("unexpected admin addr %q", file.AdminAddr)
	}
}

func TestLoadRunFileRejectsBadValues(t *testing.T) {
	testlog.Start(t)

	for name, body := range map[string]string{
		"duration": "jitter = \"soon\"\n",
		"family":   "family = \"ring\"\n",
		"layout":   "layout = \"mesh\"\n",
		"syntax":   "family = \n",
	} {
		if _, err := loadRunFile(writeFile(t, "run.toml", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
