package main

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/curve"
)

// curveCmd evaluates a subject curve over a temperature range, e.g.
//
//	admin curve -kind MOB_SPAWN_RATE -subject ZOMBIE -from 0 -to 30 -step 5
func curveCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("curve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cf := addConfigFlags(fs)
	region := fs.String("region", "", "region id (default: configured default region)")
	kindName := fs.String("kind", "", "effect kind")
	subject := fs.String("subject", "", "curve subject (empty lists the subjects)")
	from := fs.Float64("from", 0, "first temperature")
	to := fs.Float64("to", 30, "last temperature")
	step := fs.Float64("step", 5, "temperature step")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	if *step <= 0 || *to < *from {
		return usageErr("need step > 0 and to >= from")
	}

	kind, err := climate.ParseKind(*kindName)
	if err != nil {
		names := make([]string, 0, len(climate.Kinds()))
		for _, k := range climate.Kinds() {
			names = append(names, k.String())
		}
		return unknownErr("kind", strings.ToUpper(strings.TrimSpace(*kindName)), names)
	}

	cc, err := cf.load()
	if err != nil {
		return err
	}
	id, err := cc.region(*region)
	if err != nil {
		return err
	}
	cats := cc.models.Catalogs(id)
	subjects := map[string]*curve.AlternateCurve{}
	for name, c := range cats.EffectCurves()[kind] {
		subjects[name] = c
	}
	for name, c := range cats.RegionCurves()[kind] {
		subjects[name] = c
	}
	names := make([]string, 0, len(subjects))
	for name := range subjects {
		names = append(names, name)
	}
	sort.Strings(names)

	want := strings.ToUpper(strings.TrimSpace(*subject))
	if want == "" {
		fmt.Fprintf(out, "%s subjects in %s: %s\n", kind, id, strings.Join(names, ", "))
		return nil
	}
	c, ok := subjects[want]
	if !ok {
		return unknownErr("subject", want, names)
	}

	fmt.Fprintf(out, "%s/%s in %s\n", kind, want, id)
	for t := *from; t <= *to+1e-9; t += *step {
		fmt.Fprintf(out, "%7.2f %8.3f\n", t, c.Value(t))
	}
	if c.HasAlternates() {
		alts := make([]string, 0, len(c.Alternates()))
		for _, a := range c.Alternates() {
			alts = append(alts, a.Outcome)
		}
		fmt.Fprintf(out, "alternates: %s\n", strings.Join(alts, ", "))
	}
	return nil
}

// suggest returns the closest candidate within a length-scaled edit
// distance, or "".
func suggest(got string, candidates []string) string {
	got = strings.ToUpper(strings.TrimSpace(got))
	if got == "" {
		return ""
	}
	best, bestDist := "", -1
	for _, cand := range candidates {
		c := strings.ToUpper(cand)
		if strings.HasPrefix(c, got) && len(got) >= 2 {
			return cand
		}
		dist := levenshtein.ComputeDistance(got, c)
		if dist > suggestLimit(len(c)) {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = cand, dist
		}
	}
	return best
}

func suggestLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}
