package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/divyekant/subdash/internal/fetch"
)

func TestBestClashSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBestClashSource(fetch.New(fetch.Config{}))
	if b.Name() != "bestclash" || b.Kind() != Latest {
		t.Errorf("Name/Kind = %q/%v", b.Name(), b.Kind())
	}
	b.Configure(SourceConfig{Settings: map[string]string{"github_url": srv.URL + "/proxies.yaml"}})

	rec, err := b.Fetch(context.Background(), FetchRequest{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := rec.Links[LinkClash]; len(got) != 1 || got[0] != srv.URL+"/proxies.yaml" {
		t.Errorf("clash = %v", got)
	}
	if got := rec.Links[LinkClashMirror]; len(got) != 1 || got[0] != bestClashMirror {
		t.Errorf("mirror = %v", got)
	}
	if rec.Meta["github_reachable"] != "true" {
		t.Errorf("github_reachable = %q, want true", rec.Meta["github_reachable"])
	}
}

func TestBestClashSource_UnreachableIsNotAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	b := NewBestClashSource(fetch.New(fetch.Config{}))
	b.Configure(SourceConfig{Settings: map[string]string{"github_url": srv.URL}})

	rec, err := b.Fetch(context.Background(), FetchRequest{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Meta["github_reachable"] != "false" {
		t.Errorf("github_reachable = %q, want false", rec.Meta["github_reachable"])
	}
	if !rec.HasLinks() {
		t.Error("fixed links should always be present")
	}
}

func TestRipaoSource_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clash", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewRipaoSource(fetch.New(fetch.Config{}))
	if r.Name() != "ripao" || r.Kind() != Latest {
		t.Errorf("Name/Kind = %q/%v", r.Name(), r.Kind())
	}
	r.Configure(SourceConfig{Settings: map[string]string{
		"clash_url":   srv.URL + "/clash",
		"v2ray_url":   srv.URL + "/sub",
		"mirror_base": "https://mirror.example.com/",
	}})

	rec, err := r.Fetch(context.Background(), FetchRequest{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Meta["clash_available"] != "true" || rec.Meta["v2ray_available"] != "false" {
		t.Errorf("availability = %v", rec.Meta)
	}
	if got := rec.Links[LinkV2RayMirror]; len(got) != 1 || got[0] != "https://mirror.example.com/"+srv.URL+"/sub" {
		t.Errorf("v2ray mirror = %v", got)
	}
}

func TestRipaoSource_NoMirror(t *testing.T) {
	r := NewRipaoSource(fetch.New(fetch.Config{}))
	r.Configure(SourceConfig{Settings: map[string]string{
		"clash_url":   "http://127.0.0.1:1/clash",
		"v2ray_url":   "http://127.0.0.1:1/sub",
		"mirror_base": "",
	}})
	rec, err := r.Fetch(context.Background(), FetchRequest{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, ok := rec.Links[LinkClashMirror]; ok {
		t.Error("empty mirror_base should disable mirror links")
	}
	if rec.Meta["clash_available"] != "false" {
		t.Errorf("clash_available = %q", rec.Meta["clash_available"])
	}
}
