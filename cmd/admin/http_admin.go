package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"globalwarming.dev/internal/sim/climate"
)

func stateCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	return doAdmin(http.MethodGet, adminURL(*baseURL, "/admin/v1/regions", nil), out)
}

// toggleCmd flips an effect (with -kind) or a region's whole engine.
func toggleCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("toggle", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	region := fs.String("region", "", "region id")
	kindName := fs.String("kind", "", "effect kind (empty toggles the region engine)")
	enabled := fs.String("enabled", "", "true or false")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	if strings.TrimSpace(*region) == "" {
		return usageErr("missing -region")
	}
	on, err := strconv.ParseBool(strings.TrimSpace(*enabled))
	if err != nil {
		return usageErr("-enabled must be true or false")
	}
	q := url.Values{}
	q.Set("region", strings.TrimSpace(*region))
	q.Set("enabled", strconv.FormatBool(on))

	path := "/admin/v1/regions/engine"
	if k := strings.TrimSpace(*kindName); k != "" {
		kind, err := climate.ParseKind(k)
		if err != nil {
			names := make([]string, 0, len(climate.Kinds()))
			for _, k := range climate.Kinds() {
				names = append(names, k.String())
			}
			return unknownErr("kind", strings.ToUpper(k), names)
		}
		q.Set("kind", kind.String())
		path = "/admin/v1/effects"
	}
	return doAdmin(http.MethodPost, adminURL(*baseURL, path, q), out)
}

func adminURL(base, path string, q url.Values) string {
	u := strings.TrimRight(strings.TrimSpace(base), "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func doAdmin(method, u string, out io.Writer) error {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %d", method, u, resp.StatusCode)
	}
	return nil
}
