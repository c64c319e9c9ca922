package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sweep", "sweep-toml":
		return sweepTomlTemplate, nil
	case "sweep-yaml":
		return sweepYamlTemplate, nil
	case "run":
		return runTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const sweepTomlTemplate = `name = "baseline"
results_dir = "results"
parallel = 4
runs = 3

[[experiments]]
family = "flat"
sizes = [16, 32, 64]

[[experiments]]
family = "tree"
branching = 4
sizes = [16, 32, 64]

[[experiments]]
family = "hyper"
layout = "star_as"
compaction = 2
groups = 2
sizes = [16, 32, 64]
`

const sweepYamlTemplate = `name: baseline
results_dir: results
parallel: 4
runs: 3
experiments:
  - family: flat
    sizes: [16, 32, 64]
  - family: bcast_tree
    layout: star_as
    groups: 4
    contiguous: true
    sizes: [32, 64]
`

const runTemplate = `family = "hyper"
layout = "star"
n = 16
compaction = 1
runs = 3
transport = "sim"
jitter = "0s"
results_dir = ""
admin_addr = ""
`
