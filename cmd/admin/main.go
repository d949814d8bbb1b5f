package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/regions"
	"globalwarming.dev/internal/sim/tuning"
)

// errUsage makes run exit with status 2.
var errUsage = errors.New("usage")

var commands = []string{"score", "top", "regions", "decisions", "recent", "curve", "state", "toggle"}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "usage: admin <%s> [flags]\n", strings.Join(commands, "|"))
		return 2
	}
	var err error
	switch args[0] {
	case "score":
		err = scoreCmd(args[1:], stdout)
	case "top":
		err = topCmd(args[1:], stdout)
	case "regions":
		err = regionsCmd(args[1:], stdout)
	case "decisions":
		err = decisionsCmd(args[1:], stdout)
	case "recent":
		err = recentCmd(args[1:], stdout)
	case "curve":
		err = curveCmd(args[1:], stdout)
	case "state":
		err = stateCmd(args[1:], stdout)
	case "toggle":
		err = toggleCmd(args[1:], stdout)
	default:
		msg := fmt.Sprintf("unknown command %q", args[0])
		if s := suggest(args[0], commands); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		fmt.Fprintln(stderr, msg)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

type configFlags struct {
	configDir   *string
	schemaDir   *string
	tuningPath  *string
	regionsPath *string
}

func addConfigFlags(fs *flag.FlagSet) configFlags {
	return configFlags{
		configDir:   fs.String("configs", "./configs", "config directory"),
		schemaDir:   fs.String("schemas", "./schemas", "json schema directory"),
		tuningPath:  fs.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)"),
		regionsPath: fs.String("regions", "", "path to regions.yaml (default: <configs>/regions.yaml)"),
	}
}

// climateConfig is the offline view of the server's configuration: enough to
// turn stored scores back into temperatures and index values.
type climateConfig struct {
	tuning  tuning.Tuning
	regions regions.Config
	models  *regions.ModelSource
}

func (c configFlags) load() (*climateConfig, error) {
	setup, err := regions.LoadSetup(regions.Paths{
		ConfigDir:   *c.configDir,
		SchemaDir:   *c.schemaDir,
		TuningPath:  *c.tuningPath,
		RegionsPath: *c.regionsPath,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &climateConfig{tuning: setup.Tuning, regions: setup.Config, models: setup.Models}, nil
}

// region resolves a region id against the config, defaulting to the
// configured default region.
func (c *climateConfig) region(id string) (climate.RegionID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return climate.RegionID(c.regions.DefaultRegionID), nil
	}
	if _, ok := c.regions.RegionSpecByID(id); ok {
		return climate.RegionID(id), nil
	}
	known := make([]string, 0, len(c.regions.Regions))
	for _, r := range c.regions.Regions {
		known = append(known, r.ID)
	}
	sort.Strings(known)
	return "", unknownErr("region", id, known)
}

func unknownErr(what, got string, known []string) error {
	if s := suggest(got, known); s != "" {
		return usageErr("unknown %s %q (did you mean %q?)", what, got, s)
	}
	return usageErr("unknown %s %q (known: %s)", what, got, strings.Join(known, ", "))
}

// Labels for the colour bands players see in chat.
func indexLabel(index float64) string {
	switch {
	case index < 3:
		return "poor"
	case index < 5:
		return "fair"
	case index > 5:
		return "good"
	default:
		return "neutral"
	}
}

func scoreLabel(score int64) string {
	switch {
	case score <= 0:
		return "good"
	case score <= 500:
		return "fair"
	default:
		return "poor"
	}
}
