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

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doRequest(http.MethodGet, *baseURL, "/admin/v1/state", nil, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	doRequest(http.MethodPost, *baseURL, "/admin/v1/snapshot", nil, 60*time.Second)
}

func syncCmd(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	// Positional args are location ids; none means all.
	body, _ := json.Marshal(map[string]any{"locations": fs.Args()})
	doRequest(http.MethodPost, *baseURL, "/admin/v1/sync", body, 120*time.Second)
}

func defsCmd(args []string) {
	fs := flag.NewFlagSet("defs", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	putPath := fs.String("put", "", "upsert the definition in this JSON file")
	deleteID := fs.String("delete", "", "delete the definition with this id")
	by := fs.String("by", "admin", "acting author")
	_ = fs.Parse(args)

	switch {
	case *putPath != "":
		raw, err := os.ReadFile(*putPath)
		if err != nil {
			fatal("read:", err)
		}
		doRequestAs(http.MethodPost, *baseURL, "/admin/v1/definitions", raw, *by, 30*time.Second)
	case *deleteID != "":
		path := "/admin/v1/definitions?id=" + url.QueryEscape(*deleteID)
		doRequestAs(http.MethodDelete, *baseURL, path, nil, *by, 30*time.Second)
	default:
		doRequest(http.MethodGet, *baseURL, "/admin/v1/definitions", nil, 10*time.Second)
	}
}

func locationCmd(args []string) {
	fs := flag.NewFlagSet("location", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	id := fs.String("id", "", "location id (required)")
	channel := fs.String("channel", "", "external channel ref (required)")
	_ = fs.Parse(args)

	if *id == "" || *channel == "" {
		fmt.Fprintln(os.Stderr, "missing -id or -channel")
		os.Exit(2)
	}
	body, _ := json.Marshal(map[string]string{"location_id": *id, "channel_ref": *channel})
	doRequest(http.MethodPost, *baseURL, "/admin/v1/locations", body, 10*time.Second)
}

func doRequest(method, baseURL, path string, body []byte, timeout time.Duration) {
	doRequestAs(method, baseURL, path, body, "", timeout)
}

func doRequestAs(method, baseURL, path string, body []byte, by string, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fatal("request:", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if by != "" {
		req.Header.Set("X-Actor", by)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fatal("request:", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
