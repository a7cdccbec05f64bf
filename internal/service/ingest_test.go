package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/source"
	"github.com/timmy/supaarchive/internal/source/pixiv"
)

type ingestFixture struct {
	svc      *IngestService
	artworks *memArtworks
	blobs    *memBlobs
	fetcher  *fakeFetcher
	queue    *fakeQueue
	runs     *fakeRuns
}

func newIngestFixture(attempts int) *ingestFixture {
	f := &ingestFixture{
		artworks: newMemArtworks(),
		blobs:    newMemBlobs(),
		fetcher:  &fakeFetcher{payloads: map[string][]byte{}},
		queue:    &fakeQueue{},
		runs:     &fakeRuns{},
	}
	f.svc = NewIngestService(f.artworks, f.blobs, f.fetcher, f.queue, f.runs, logger.GetDefault(), &IngestConfig{
		Workers:              3,
		MergeAttempts:        attempts,
		IndexDelay:           10 * time.Second,
		DisallowedExtensions: []string{".webm", ".mp4"},
		PixivReferer:         "https://www.pixiv.net/",
	})
	return f
}

func TestIngestDedupConvergence(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	payload := []byte("identical bytes")

	first, err := f.svc.Ingest(ctx, payload, "png", []string{"a", "b"}, domain.SourceMetadata{
		Membership: domain.SetMember{SourceSetID: 7, PageNo: 0},
	})
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	if first.Outcome != domain.OutcomeCreated || first.ID != ContentHash(payload) {
		t.Fatalf("first result = %+v", first)
	}

	second, err := f.svc.Ingest(ctx, payload, "png", []string{"b", "c"}, domain.SourceMetadata{
		Membership: domain.SetMember{SourceSetID: 9, PageNo: 2},
	})
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if second.Outcome != domain.OutcomeMerged || second.ID != first.ID {
		t.Fatalf("second result = %+v", second)
	}

	if f.artworks.count() != 1 {
		t.Fatalf("records = %d, want 1", f.artworks.count())
	}
	got, _ := f.artworks.GetByID(ctx, first.ID)
	tags := append([]string{}, got.Tags...)
	sort.Strings(tags)
	if fmt.Sprint(tags) != "[a b c]" {
		t.Errorf("tags = %v, want union [a b c]", tags)
	}
	m, ok := got.Membership().(domain.SetMember)
	if !ok || m.SourceSetID != 9 || m.PageNo != 2 {
		t.Errorf("membership = %#v, want the differing incoming values", got.Membership())
	}
	if got.BlobRef != first.ID+".png" {
		t.Errorf("blob ref = %q", got.BlobRef)
	}

	if len(f.queue.indexed) != 1 {
		t.Fatalf("index jobs = %d, merge must not re-enqueue", len(f.queue.indexed))
	}
	if f.queue.indexed[0].delay != 10*time.Second {
		t.Errorf("index delay = %v", f.queue.indexed[0].delay)
	}
}

func TestIngestResubmissionIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	meta := domain.SourceMetadata{Membership: domain.SetMember{SourceSetID: 3, PageNo: 1}, Title: "t"}

	if _, err := f.svc.Ingest(ctx, []byte("p"), "jpg", []string{"x"}, meta); err != nil {
		t.Fatal(err)
	}
	before, _ := f.artworks.GetByID(ctx, ContentHash([]byte("p")))

	res, err := f.svc.Ingest(ctx, []byte("p"), "jpg", []string{"x"}, meta)
	if err != nil || res.Outcome != domain.OutcomeMerged {
		t.Fatalf("resubmission = %+v, %v", res, err)
	}
	after, _ := f.artworks.GetByID(ctx, res.ID)
	if after.Revision != before.Revision {
		t.Errorf("revision moved from %d to %d on identical resubmission", before.Revision, after.Revision)
	}
}

func TestIngestConcurrentSameHash(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(50)
	payload := []byte("shared payload")

	const n = 10
	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Ingest(ctx, payload, "png", []string{fmt.Sprintf("tag%d", i)}, domain.SourceMetadata{})
			errs[i] = err
			if res != nil {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range outcomes {
		if errs[i] != nil {
			t.Fatalf("Ingest() error = %v", errs[i])
		}
		if outcomes[i] == domain.OutcomeCreated {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created outcomes = %d, want 1", created)
	}
	if f.artworks.count() != 1 {
		t.Fatalf("records = %d, want 1", f.artworks.count())
	}
	got, _ := f.artworks.GetByID(ctx, ContentHash(payload))
	if len(got.Tags) != n {
		t.Errorf("tags = %v, want all %d", got.Tags, n)
	}
}

func TestIngestCompletesPlaceholderUpload(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	payload := []byte("half done")
	f.artworks.put(domain.NewArtwork(ContentHash(payload), []string{"a"}, domain.SourceMetadata{}, 1))

	res, err := f.svc.Ingest(ctx, payload, "gif", nil, domain.SourceMetadata{})
	if err != nil || res.Outcome != domain.OutcomeMerged {
		t.Fatalf("Ingest() = %+v, %v", res, err)
	}
	got, _ := f.artworks.GetByID(ctx, res.ID)
	if !got.HasBlob() {
		t.Error("placeholder should be replaced by the uploaded blob")
	}
	if len(f.queue.indexed) != 1 {
		t.Errorf("index jobs = %d, want 1", len(f.queue.indexed))
	}
}

func TestIngestRecordRemovedDuringUpload(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	f.blobs.onPut = func(hash string) { f.artworks.Delete(ctx, hash) }

	_, err := f.svc.Ingest(ctx, []byte("swept"), "png", nil, domain.SourceMetadata{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Ingest() error = %v, want ErrNotFound", err)
	}
	if len(f.queue.indexed) != 0 {
		t.Errorf("index jobs = %d, want 0", len(f.queue.indexed))
	}
	if len(f.blobs.objects) != 0 {
		t.Errorf("orphaned blobs = %d, want 0", len(f.blobs.objects))
	}
}

func TestIngestItemSourceGuard(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)

	existing := domain.NewArtwork("h", nil, domain.SourceMetadata{
		Membership: domain.SetMember{SourceSetID: 7, PageNo: 1},
		ExternalID: int64p(99),
	}, 1)
	f.artworks.put(existing)

	tests := []struct {
		name string
		item source.Item
	}{
		{"known set page", source.Item{URL: "https://x/a.png", SourceSetID: int64p(7), PageNo: intp(1)}},
		{"known external id", source.Item{URL: "https://x/b.png", ExternalID: int64p(99)}},
		{"video", source.Item{URL: "https://x/c.webm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.IngestItem(ctx, tt.item)
			if err != nil {
				t.Fatalf("IngestItem() error = %v", err)
			}
			if res.Outcome != domain.OutcomeSkipped {
				t.Errorf("outcome = %s, want skipped", res.Outcome)
			}
		})
	}
	if f.fetcher.calls != 0 {
		t.Errorf("fetcher called %d times for skipped items", f.fetcher.calls)
	}
}

func TestIngestItemFetchesNewPage(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	f.fetcher.payloads["https://x/p2.png"] = []byte("page two")

	res, err := f.svc.IngestItem(ctx, source.Item{
		URL:         "https://x/p2.png",
		Tags:        []string{"cat"},
		SourceSetID: int64p(7),
		PageNo:      intp(2),
	})
	if err != nil || res.Outcome != domain.OutcomeCreated {
		t.Fatalf("IngestItem() = %+v, %v", res, err)
	}

	if _, err := f.svc.IngestItem(ctx, source.Item{URL: "https://x/gone.png"}); !errors.Is(err, domain.ErrUpstreamFetch) {
		t.Errorf("missing payload error = %v, want ErrUpstreamFetch", err)
	}
	if _, err := f.svc.IngestItem(ctx, source.Item{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("invalid item error = %v, want ErrValidation", err)
	}
}

func TestSubmitItemsValidatesBeforeEnqueue(t *testing.T) {
	f := newIngestFixture(5)
	items := []source.Item{
		{URL: "https://x/a.png"},
		{URL: "https://x/b.png", SourceSetID: int64p(1)},
	}
	if _, err := f.svc.SubmitItems(context.Background(), "test", items); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SubmitItems() error = %v, want ErrValidation", err)
	}
	if len(f.queue.items) != 0 {
		t.Errorf("enqueued %d items from an invalid submission", len(f.queue.items))
	}
}

func TestSubmitPixiv(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	sub := &pixiv.Submission{IllustrationID: 42, Tags: []string{"sky"}, Pages: []string{"https://i/p0.png", "https://i/p1.png"}}

	res, err := f.svc.SubmitPixiv(ctx, sub)
	if err != nil {
		t.Fatalf("SubmitPixiv() error = %v", err)
	}
	if res.Status != SubmissionQueued || res.Queued != 2 || len(f.queue.items) != 2 {
		t.Fatalf("result = %+v, queued %d", res, len(f.queue.items))
	}
	if f.queue.items[1].Headers["Referer"] != "https://www.pixiv.net/" {
		t.Errorf("headers = %v", f.queue.items[1].Headers)
	}

	f.artworks.put(domain.NewArtwork("p0", nil, domain.SourceMetadata{Membership: domain.SetMember{SourceSetID: 42}}, 1))
	res, err = f.svc.SubmitPixiv(ctx, sub)
	if err != nil || res.Status != SubmissionAlreadyArchived {
		t.Errorf("second submission = %+v, %v", res, err)
	}
	if len(f.queue.items) != 2 {
		t.Errorf("archived set was enqueued again")
	}
}

type sliceSource struct {
	items []source.Item
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) FetchBatch(_ context.Context, _, cursor string, limit int) ([]source.Item, string, error) {
	start := 0
	fmt.Sscan(cursor, &start)
	end := start + limit
	if end >= len(s.items) {
		return s.items[start:], "", nil
	}
	return s.items[start:end], fmt.Sprint(end), nil
}

func TestPullFromSourceDirect(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(5)
	src := &sliceSource{}
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://x/%d.png", i)
		src.items = append(src.items, source.Item{URL: url, ExternalID: int64p(int64(i))})
		f.fetcher.payloads[url] = []byte(fmt.Sprintf("payload %d", i%4))
	}
	src.items = append(src.items, source.Item{URL: "https://x/clip.mp4"})

	run, err := f.svc.PullFromSource(ctx, src, PullOptions{BatchSize: 2, Direct: true})
	if err != nil {
		t.Fatalf("PullFromSource() error = %v", err)
	}
	if run.Status != domain.RunStatusCompleted || run.Total != 6 {
		t.Fatalf("run = %+v", run)
	}
	if run.Created != 4 || run.Merged != 1 || run.Skipped != 1 || run.Failed != 0 {
		t.Errorf("counters = created %d merged %d skipped %d failed %d", run.Created, run.Merged, run.Skipped, run.Failed)
	}
	if len(f.runs.saved) != 1 {
		t.Errorf("saved runs = %d", len(f.runs.saved))
	}
}

func TestPullFromSourceEnqueuesWithLimit(t *testing.T) {
	f := newIngestFixture(5)
	src := &sliceSource{}
	for i := 0; i < 10; i++ {
		src.items = append(src.items, source.Item{URL: fmt.Sprintf("https://x/%d.png", i)})
	}

	run, err := f.svc.PullFromSource(context.Background(), src, PullOptions{Limit: 7, BatchSize: 3})
	if err != nil {
		t.Fatal(err)
	}
	if run.Total != 7 || len(f.queue.items) != 7 {
		t.Errorf("total = %d, enqueued = %d, want 7", run.Total, len(f.queue.items))
	}
}
