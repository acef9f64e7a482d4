package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	pos := fs.String("pos", "", "block position x,y,z (input, events)")
	face := fs.String("face", "", "face name such as Y_POS (input)")
	kind := fs.String("kind", "keypad", "input kind: keypad, terminal, redstone, bundled_redstone (use the region command for regions)")
	value := fs.Int("value", 0, "input value (keypad, redstone, bundled_redstone)")
	channel := fs.Int("channel", 0, "bundled redstone channel")
	line := fs.String("line", "", "terminal line")
	region := fs.String("region", "", "region coordinates x,y,z (region)")
	unload := fs.Bool("unload", false, "unload instead of load (region)")
	limit := fs.Int("limit", 20, "result limit (events)")
	_ = fs.Parse(args)

	req, err := buildRequest(name, strings.TrimRight(strings.TrimSpace(*baseURL), "/"), requestArgs{
		Pos: *pos, Face: *face, Kind: *kind, Value: *value, Channel: *channel,
		Line: *line, Region: *region, Unload: *unload, Limit: *limit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	if err := call(cl, req, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type requestArgs struct {
	Pos     string
	Face    string
	Kind    string
	Value   int
	Channel int
	Line    string
	Region  string
	Unload  bool
	Limit   int
}

func buildRequest(name, base string, a requestArgs) (*http.Request, error) {
	switch name {
	case "state":
		return http.NewRequest(http.MethodGet, base+"/admin/v1/state", nil)
	case "snapshot":
		return http.NewRequest(http.MethodPost, base+"/admin/v1/snapshot", nil)
	case "events":
		if a.Pos == "" {
			return nil, fmt.Errorf("missing -pos")
		}
		q := url.Values{"pos": {a.Pos}, "limit": {fmt.Sprint(a.Limit)}}
		return http.NewRequest(http.MethodGet, base+"/admin/v1/events?"+q.Encode(), nil)
	case "input":
		if a.Pos == "" || a.Face == "" {
			return nil, fmt.Errorf("missing -pos or -face")
		}
		p, err := parseTriple(a.Pos)
		if err != nil {
			return nil, err
		}
		body := map[string]any{"kind": a.Kind, "pos": p, "face": a.Face}
		switch a.Kind {
		case "terminal":
			body["line"] = a.Line
		case "bundled_redstone":
			body["channel"] = a.Channel
			body["value"] = a.Value
		default:
			body["value"] = a.Value
		}
		return jsonRequest(base+"/admin/v1/input", body)
	case "region":
		if a.Region == "" {
			return nil, fmt.Errorf("missing -region")
		}
		return jsonRequest(base+"/admin/v1/region", map[string]any{"region": a.Region, "loaded": !a.Unload})
	}
	return nil, fmt.Errorf("unknown command %q", name)
}

func jsonRequest(u string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// call prints the response body and fails on a non-2xx status.
func call(cl *http.Client, req *http.Request, out io.Writer) error {
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return nil
}

func parseTriple(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z: %q", s)
	}
	for i := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[i]), "%d", &v[i]); err != nil {
			return v, fmt.Errorf("expected x,y,z: %q", s)
		}
	}
	return v, nil
}
