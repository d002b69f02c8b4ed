package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/divyekant/subdash/internal/period"
	"github.com/divyekant/subdash/internal/sources"
	"github.com/divyekant/subdash/internal/store"
	"github.com/divyekant/subdash/internal/watermark"
)

// ── Fakes ──────────────────────────────────────────────────────────────

type fakeSource struct {
	name    string
	kind    sources.Kind
	failing map[string]bool // keys that always fail
	empty   map[string]bool // keys that return a record without links
	none    map[string]bool // keys that return no record and no error
	calls   map[string]int
	onFetch func(key string)
}

func newFake(name string, kind sources.Kind) *fakeSource {
	return &fakeSource{name: name, kind: kind, failing: map[string]bool{}, empty: map[string]bool{}, none: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeSource) Name() string                         { return f.name }
func (f *fakeSource) Kind() sources.Kind                   { return f.kind }
func (f *fakeSource) Configure(sources.SourceConfig) error { return nil }
func (f *fakeSource) Fetch(_ context.Context, req sources.FetchRequest) (*sources.Record, error) {
	key := req.Period.ID
	if key == "" {
		key = f.name
	}
	f.calls[key]++
	if f.onFetch != nil {
		f.onFetch(key)
	}
	if f.failing[key] {
		return nil, errors.New("upstream down")
	}
	if f.none[key] {
		return nil, nil
	}
	rec := sources.NewRecord(f.name, "https://example.test/"+key)
	rec.Title = "title " + key
	if !f.empty[key] {
		rec.AddLinks(sources.LinkClash, "https://example.test/"+key+".yaml")
	}
	return rec, nil
}

type recordingSleeper struct {
	slept  []time.Duration
	events *[]string
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	if r.events != nil {
		*r.events = append(*r.events, "sleep "+d.String())
	}
	return nil
}

type countingPublisher struct {
	calls  int
	last   store.Document
	ctxErr error
}

func (p *countingPublisher) Publish(ctx context.Context, doc store.Document) error {
	p.calls++
	p.last = doc
	p.ctxErr = ctx.Err()
	return nil
}

type recordingDownloader struct{ sources []string }

func (d *recordingDownloader) Record(_ context.Context, rec *sources.Record) error {
	d.sources = append(d.sources, rec.SourceURL)
	return nil
}

type harness struct {
	store     *store.Store
	watermark *watermark.Store
	sleeper   *recordingSleeper
	publisher *countingPublisher
	engine    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		store:     store.New(filepath.Join(dir, "web", "data.json"), nil),
		watermark: watermark.New(filepath.Join(dir, "watermark.json"), nil),
		sleeper:   &recordingSleeper{},
		publisher: &countingPublisher{},
	}
	h.engine = New(Config{
		Store:     h.store,
		Watermark: h.watermark,
		Publisher: h.publisher,
		Sleeper:   h.sleeper,
		Now:       func() time.Time { return time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC) },
	})
	return h
}

func periods(ids ...string) []period.Period {
	out := make([]period.Period, len(ids))
	for i, id := range ids {
		out[i] = period.Period{ID: id}
	}
	return out
}

func fastOptions() Options {
	return Options{MaxRetries: 3, RetryDelay: 10 * time.Second, CooldownAfter: 3, Cooldown: time.Minute, CheckpointEvery: 3}
}

// ── ComputeNewPeriods ──────────────────────────────────────────────────

func TestComputeNewPeriods(t *testing.T) {
	tests := []struct {
		name string
		all  []string
		wm   string
		want []string
	}{
		{"prefix above watermark", []string{"20250410", "20250409", "20250407"}, "20250408", []string{"20250410", "20250409"}},
		{"no watermark returns all", []string{"20250410", "20250409", "20250407"}, "", []string{"20250410", "20250409", "20250407"}},
		{"nothing new", []string{"20250408", "20250407"}, "20250408", nil},
		{"stops at first older entry", []string{"20250410", "20250405", "20250409"}, "20250408", []string{"20250410"}},
		{"all newer", []string{"20250410", "20250409"}, "20250401", []string{"20250410", "20250409"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := period.IDs(ComputeNewPeriods(periods(tt.all...), tt.wm))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ComputeNewPeriods = %v, want %v", got, tt.want)
			}
		})
	}
}

// ── Ingest ─────────────────────────────────────────────────────────────

func TestIngest_RetryBound(t *testing.T) {
	h := newHarness(t)
	src := newFake("datiya", sources.Dated)
	src.failing["20250410"] = true

	res, err := h.engine.Ingest(context.Background(), src, periods("20250410"), fastOptions())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if src.calls["20250410"] != 3 {
		t.Errorf("attempts = %d, want 3", src.calls["20250410"])
	}
	if len(h.sleeper.slept) != 2 {
		t.Fatalf("sleeps = %v, want 2", h.sleeper.slept)
	}
	for _, d := range h.sleeper.slept {
		if d < 5*time.Second || d > 15*time.Second {
			t.Errorf("retry sleep %v outside [5s, 15s]", d)
		}
	}
	if !reflect.DeepEqual(res.Failed, []string{"20250410"}) || len(res.Succeeded) != 0 {
		t.Errorf("Result = %+v", res)
	}
}

func TestIngest_RecordWithoutLinksIsFailure(t *testing.T) {
	h := newHarness(t)
	src := newFake("datiya", sources.Dated)
	src.empty["20250410"] = true

	opts := fastOptions()
	opts.RetryDelay = 0
	res, _ := h.engine.Ingest(context.Background(), src, periods("20250410"), opts)
	if src.calls["20250410"] != 3 {
		t.Errorf("attempts = %d, want 3", src.calls["20250410"])
	}
	if len(h.sleeper.slept) != 0 {
		t.Errorf("zero retry delay should not sleep, got %v", h.sleeper.slept)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], sources.ErrNoData) {
		t.Errorf("Errors = %v, want ErrNoData", res.Errors)
	}
}

func TestIngest_NilRecordIsFailure(t *testing.T) {
	h := newHarness(t)
	src := newFake("datiya", sources.Dated)
	src.none["20250410"] = true

	opts := fastOptions()
	opts.RetryDelay = 0
	res, err := h.engine.Ingest(context.Background(), src, periods("20250410"), opts)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if src.calls["20250410"] != opts.MaxRetries {
		t.Errorf("attempts = %d, want %d", src.calls["20250410"], opts.MaxRetries)
	}
	if !reflect.DeepEqual(res.Failed, []string{"20250410"}) {
		t.Errorf("Failed = %v", res.Failed)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], sources.ErrNoData) {
		t.Errorf("Errors = %v, want ErrNoData", res.Errors)
	}
}

func TestIngest_TotalFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	if err := h.watermark.Save("20250401", time.Now()); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(h.watermark.Path())

	src := newFake("datiya", sources.Dated)
	src.failing["20250410"] = true
	src.failing["20250409"] = true

	opts := fastOptions()
	opts.MaxRetries = 1
	res, err := h.engine.Ingest(context.Background(), src, periods("20250410", "20250409"), opts)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Changed() || res.Checkpoints != 0 || res.Published {
		t.Errorf("Result = %+v, want no changes", res)
	}
	if _, statErr := os.Stat(h.store.Path()); !os.IsNotExist(statErr) {
		t.Error("store must not be written when nothing succeeded")
	}
	after, _ := os.ReadFile(h.watermark.Path())
	if !bytes.Equal(before, after) {
		t.Error("watermark must not change when nothing succeeded")
	}
	if h.publisher.calls != 0 {
		t.Error("publisher must not be signalled")
	}
}

func TestIngest_CooldownAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	var events []string
	h.sleeper.events = &events

	src := newFake("datiya", sources.Dated)
	ids := []string{"20250410", "20250409", "20250408", "20250407", "20250406"}
	for _, id := range ids[:3] {
		src.failing[id] = true
	}
	src.onFetch = func(key string) { events = append(events, "fetch "+key) }

	opts := fastOptions()
	opts.MaxRetries = 1
	res, err := h.engine.Ingest(context.Background(), src, periods(ids...), opts)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"fetch 20250410", "fetch 20250409", "fetch 20250408", "sleep 1m0s", "fetch 20250407", "fetch 20250406"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
	if !reflect.DeepEqual(res.Merged, []string{"20250407", "20250406"}) {
		t.Errorf("Merged = %v", res.Merged)
	}
}

func TestIngest_CooldownCounterResets(t *testing.T) {
	h := newHarness(t)
	src := newFake("datiya", sources.Dated)
	ids := []string{"20250410", "20250409", "20250408", "20250407", "20250406", "20250405", "20250404"}
	for _, id := range ids {
		src.failing[id] = true
	}

	opts := fastOptions()
	opts.MaxRetries = 1
	if _, err := h.engine.Ingest(context.Background(), src, periods(ids...), opts); err != nil {
		t.Fatal(err)
	}
	// Pauses before the 4th and 7th periods only.
	if !reflect.DeepEqual(h.sleeper.slept, []time.Duration{time.Minute, time.Minute}) {
		t.Errorf("sleeps = %v, want two 1m pauses", h.sleeper.slept)
	}
}

func TestIngest_CheckpointCadence(t *testing.T) {
	h := newHarness(t)
	src := newFake("datiya", sources.Dated)
	var onDisk []int
	src.onFetch = func(string) { onDisk = append(onDisk, len(h.store.Load().Doc)) }

	ids := []string{"20250410", "20250409", "20250408", "20250407", "20250406", "20250405", "20250404"}
	res, err := h.engine.Ingest(context.Background(), src, periods(ids...), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Checkpoints != 3 {
		t.Errorf("Checkpoints = %d, want 3", res.Checkpoints)
	}
	if want := []int{0, 0, 0, 3, 3, 3, 6}; !reflect.DeepEqual(onDisk, want) {
		t.Errorf("keys on disk before each fetch = %v, want %v", onDisk, want)
	}
	if n := len(h.store.Load().Doc); n != 7 {
		t.Errorf("final keys = %d, want 7", n)
	}
}

func TestIngest_CheckpointOnSkippedBoundary(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.MergeAndSave(store.Document{"20250408": []byte(`{"title":"stored"}`)}); err != nil {
		t.Fatal(err)
	}
	src := newFake("datiya", sources.Dated)
	var onDisk []int
	src.onFetch = func(string) { onDisk = append(onDisk, len(h.store.Load().Doc)) }

	// The third success is the stored period; the two merged before it must
	// still be flushed there.
	ids := []string{"20250410", "20250409", "20250408", "20250407", "20250406", "20250405"}
	res, err := h.engine.Ingest(context.Background(), src, periods(ids...), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{1, 1, 3, 3, 3}; !reflect.DeepEqual(onDisk, want) {
		t.Errorf("keys on disk before each fetch = %v, want %v", onDisk, want)
	}
	if res.Checkpoints != 3 {
		t.Errorf("Checkpoints = %d, want 3", res.Checkpoints)
	}
	if n := len(h.store.Load().Doc); n != 6 {
		t.Errorf("final keys = %d, want 6", n)
	}
}

func TestIngest_PreservesUnrelatedEntry(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.MergeAndSave(store.Document{
		"20250410": []byte(`{"source":"datiya","title":"old","links":{"clash":["https://x/1.yaml"]},"scrape_time":"2025-04-10T01:00:00Z"}`),
	}); err != nil {
		t.Fatal(err)
	}
	before := append([]byte(nil), h.store.Load().Doc["20250410"]...)

	src := newFake("datiya", sources.Dated)
	if _, err := h.engine.Ingest(context.Background(), src, periods("20250409"), fastOptions()); err != nil {
		t.Fatal(err)
	}

	doc := h.store.Load().Doc
	if !doc.Has("20250409") {
		t.Fatal("20250409 missing after ingest")
	}
	if !bytes.Equal(doc["20250410"], before) {
		t.Errorf("20250410 changed:\nbefore %s\nafter  %s", before, doc["20250410"])
	}
}

func TestIngest_SkipsStoredUnlessForced(t *testing.T) {
	h := newHarness(t)
	if _, err := h.store.MergeAndSave(store.Document{"20250410": []byte(`{"title":"old"}`)}); err != nil {
		t.Fatal(err)
	}
	src := newFake("datiya", sources.Dated)

	res, err := h.engine.Ingest(context.Background(), src, periods("20250410"), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	if src.calls["20250410"] != 0 {
		t.Error("stored period should not be fetched")
	}
	if !reflect.DeepEqual(res.Skipped, []string{"20250410"}) || !reflect.DeepEqual(res.Succeeded, []string{"20250410"}) {
		t.Errorf("Result = %+v", res)
	}

	opts := fastOptions()
	opts.ForceUpdate = true
	if _, err := h.engine.Ingest(context.Background(), src, periods("20250410"), opts); err != nil {
		t.Fatal(err)
	}
	if src.calls["20250410"] != 1 {
		t.Errorf("forced run fetched %d times, want 1", src.calls["20250410"])
	}
	var rec sources.Record
	h.store.Load().Doc.Get("20250410", &rec)
	if rec.Title != "title 20250410" {
		t.Errorf("forced run should overwrite, title = %q", rec.Title)
	}
}

func TestIngest_AdvancesWatermarkAndPublishes(t *testing.T) {
	h := newHarness(t)
	if err := h.watermark.Save("20250412", time.Now()); err != nil {
		t.Fatal(err)
	}
	dl := &recordingDownloader{}
	h.engine.downloader = dl

	src := newFake("datiya", sources.Dated)
	src.failing["20250409"] = true
	opts := fastOptions()
	opts.Download = true

	res, err := h.engine.Ingest(context.Background(), src, periods("20250410", "20250409", "20250408"), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Watermark != "20250412" {
		t.Errorf("watermark = %q, must never be lowered", res.Watermark)
	}
	if h.publisher.calls != 1 || !h.publisher.last.Has("20250408") {
		t.Errorf("publisher calls = %d", h.publisher.calls)
	}
	if len(dl.sources) != 2 {
		t.Errorf("downloads = %v, want 2", dl.sources)
	}

	h2 := newHarness(t)
	res, _ = h2.engine.Ingest(context.Background(), newFake("datiya", sources.Dated), periods("20250408", "20250410"), fastOptions())
	if res.Watermark != "20250410" || h2.watermark.Current() != "20250410" {
		t.Errorf("watermark = %q, want max of successes", res.Watermark)
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.engine.Ingest(ctx, newFake("datiya", sources.Dated), periods("20250410"), fastOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res.Changed() {
		t.Error("cancelled run should not succeed")
	}
}

// ── RefreshSlots ───────────────────────────────────────────────────────

func TestRefreshSlots(t *testing.T) {
	h := newHarness(t)
	prev := []byte(`{"source":"shaoyou","title":"previous"}`)
	if _, err := h.store.MergeAndSave(store.Document{"shaoyou": prev, "20250410": []byte(`{"title":"p"}`)}); err != nil {
		t.Fatal(err)
	}

	good := newFake("freev2", sources.Latest)
	bad := newFake("shaoyou", sources.Latest)
	bad.failing["shaoyou"] = true
	dated := newFake("datiya", sources.Dated)

	opts := fastOptions()
	opts.MaxRetries = 2
	res, err := h.engine.RefreshSlots(context.Background(), []sources.Source{good, bad, dated}, opts)
	if err != nil {
		t.Fatalf("RefreshSlots: %v", err)
	}
	if !reflect.DeepEqual(res.Succeeded, []string{"freev2"}) || !reflect.DeepEqual(res.Failed, []string{"shaoyou"}) {
		t.Errorf("Result = %+v", res)
	}
	if bad.calls["shaoyou"] != 2 || len(h.sleeper.slept) != 1 {
		t.Errorf("shaoyou attempts = %d, sleeps = %v", bad.calls["shaoyou"], h.sleeper.slept)
	}
	if len(dated.calls) != 0 {
		t.Error("dated source must not be refreshed as a slot")
	}

	doc := h.store.Load().Doc
	var rec sources.Record
	if ok, _ := doc.Get("freev2", &rec); !ok || rec.Title != "title freev2" {
		t.Errorf("freev2 slot = %s", doc["freev2"])
	}
	var old map[string]string
	doc.Get("shaoyou", &old)
	if old["title"] != "previous" {
		t.Errorf("failed slot should keep previous value, got %s", doc["shaoyou"])
	}
	if !doc.Has("20250410") {
		t.Error("period entries must survive a slot refresh")
	}
	if h.publisher.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", h.publisher.calls)
	}
}

func TestRefreshSlots_AllFailed(t *testing.T) {
	h := newHarness(t)
	bad := newFake("ripao", sources.Latest)
	bad.failing["ripao"] = true

	opts := fastOptions()
	opts.MaxRetries = 1
	res, err := h.engine.RefreshSlots(context.Background(), []sources.Source{bad}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() || res.Published {
		t.Errorf("Result = %+v", res)
	}
	if _, statErr := os.Stat(h.store.Path()); !os.IsNotExist(statErr) {
		t.Error("store must not be written when every slot failed")
	}
}

func TestRefreshSlots_PublishesAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFake("ripao", sources.Latest)
	src.onFetch = func(string) { cancel() }

	res, err := h.engine.RefreshSlots(ctx, []sources.Source{src}, fastOptions())
	if err != nil {
		t.Fatalf("RefreshSlots: %v", err)
	}
	if !res.Published || h.publisher.calls != 1 {
		t.Fatalf("Published = %v, calls = %d", res.Published, h.publisher.calls)
	}
	if h.publisher.ctxErr != nil {
		t.Errorf("publish context err = %v, want nil", h.publisher.ctxErr)
	}
	if !h.store.Load().Doc.Has("ripao") {
		t.Error("slot should be saved before the cancellation is observed")
	}
}
