package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/repository"
	"github.com/timmy/supaarchive/internal/source"
	"github.com/timmy/supaarchive/internal/storage"
)

type memArtworks struct {
	mu   sync.Mutex
	rows map[string]domain.Artwork
}

func newMemArtworks() *memArtworks {
	return &memArtworks{rows: make(map[string]domain.Artwork)}
}

func clone(a domain.Artwork) *domain.Artwork {
	a.Tags = append(domain.StringArray{}, a.Tags...)
	if a.Embedding != nil {
		a.Embedding = append(domain.Vector{}, a.Embedding...)
	}
	return &a
}

func (m *memArtworks) put(a *domain.Artwork) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = *clone(*a)
}

func (m *memArtworks) GetByID(_ context.Context, id string) (*domain.Artwork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(a), nil
}

func (m *memArtworks) GetByIDs(_ context.Context, ids []string) (map[string]*domain.Artwork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.Artwork)
	for _, id := range ids {
		if a, ok := m.rows[id]; ok {
			out[id] = clone(a)
		}
	}
	return out, nil
}

func (m *memArtworks) CreateIfAbsent(_ context.Context, a *domain.Artwork) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[a.ID]; ok {
		return false, nil
	}
	m.rows[a.ID] = *clone(*a)
	return true, nil
}

func (m *memArtworks) UpdateMerged(_ context.Context, a *domain.Artwork) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.ID]
	if !ok || cur.Revision != a.Revision {
		return false, nil
	}
	cur.Tags = append(domain.StringArray{}, a.Tags...)
	cur.SourceSetID, cur.PageNo, cur.ExternalID = a.SourceSetID, a.PageNo, a.ExternalID
	cur.AuthorID, cur.AuthorName, cur.Title, cur.Description = a.AuthorID, a.AuthorName, a.Title, a.Description
	cur.Revision++
	a.Revision = cur.Revision
	m.rows[a.ID] = cur
	return true, nil
}

func (m *memArtworks) SetBlob(_ context.Context, id, ref string, w, h int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.BlobRef, cur.Width, cur.Height = ref, w, h
	m.rows[id] = cur
	return nil
}

func (m *memArtworks) SetEmbedding(_ context.Context, id string, v []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Embedding = append(domain.Vector{}, v...)
	m.rows[id] = cur
	return nil
}

func (m *memArtworks) filter(match func(domain.Artwork) bool) []domain.Artwork {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Artwork
	for _, a := range m.rows {
		if match(a) {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inSet(a domain.Artwork, setID int64) bool {
	return a.SourceSetID != nil && *a.SourceSetID == setID
}

func (m *memArtworks) ExistsBySetPage(_ context.Context, setID int64, page int) (bool, error) {
	return len(m.filter(func(a domain.Artwork) bool { return inSet(a, setID) && *a.PageNo == page })) > 0, nil
}

func (m *memArtworks) ExistsBySet(_ context.Context, setID int64) (bool, error) {
	return len(m.filter(func(a domain.Artwork) bool { return inSet(a, setID) })) > 0, nil
}

func (m *memArtworks) ExistsByExternalID(_ context.Context, ext int64) (bool, error) {
	return len(m.filter(func(a domain.Artwork) bool { return a.ExternalID != nil && *a.ExternalID == ext })) > 0, nil
}

func (m *memArtworks) ListBySourceSet(_ context.Context, setID int64, limit int) ([]domain.Artwork, error) {
	out := m.filter(func(a domain.Artwork) bool { return inSet(a, setID) })
	sort.SliceStable(out, func(i, j int) bool { return *out[i].PageNo < *out[j].PageNo })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memArtworks) SetMemberIDs(ctx context.Context, setID int64) ([]string, error) {
	pages, _ := m.ListBySourceSet(ctx, setID, 0)
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids, nil
}

func page(rows []domain.Artwork, after string, limit int) []domain.Artwork {
	var out []domain.Artwork
	for _, a := range rows {
		if a.ID > after {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func (m *memArtworks) ScanAfter(_ context.Context, after string, limit int) ([]domain.Artwork, error) {
	return page(m.filter(func(domain.Artwork) bool { return true }), after, limit), nil
}

func (m *memArtworks) ScanMissingEmbedding(_ context.Context, after string, limit int) ([]domain.Artwork, error) {
	return page(m.filter(func(a domain.Artwork) bool { return a.Embedding == nil }), after, limit), nil
}

func (m *memArtworks) ScanByBlobSuffix(_ context.Context, suffixes []string, after string, limit int) ([]domain.Artwork, error) {
	return page(m.filter(func(a domain.Artwork) bool {
		for _, s := range suffixes {
			if strings.HasSuffix(strings.ToLower(a.BlobRef), s) {
				return true
			}
		}
		return false
	}), after, limit), nil
}

func (m *memArtworks) ListLatestPrimary(_ context.Context, offset, limit int) ([]domain.Artwork, int64, error) {
	rows := m.filter(func(a domain.Artwork) bool { return a.IsPrimary() && a.HasBlob() })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AddedAt > rows[j].AddedAt })
	total := int64(len(rows))
	if offset >= len(rows) {
		return nil, total, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, total, nil
}

func (m *memArtworks) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memArtworks) Stats(_ context.Context, _ int) (*domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &domain.Stats{TotalArtworks: int64(len(m.rows))}, nil
}

func (m *memArtworks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memTranslations struct {
	mu   sync.Mutex
	rows map[string]domain.Translation
}

func newMemTranslations() *memTranslations {
	return &memTranslations{rows: make(map[string]domain.Translation)}
}

func (m *memTranslations) Upsert(_ context.Context, ts []domain.Translation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range ts {
		m.rows[t.ID] = t
	}
	return nil
}

func (m *memTranslations) GetByID(_ context.Context, id string) (*domain.Translation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (m *memTranslations) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memTranslations) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

type memPoint struct {
	vector  []float32
	payload repository.ArtworkPayload
	seq     int
}

// memVectors orders points by insertion for scrolling and by dot product for search.
type memVectors struct {
	mu      sync.Mutex
	points  map[string]memPoint
	seq     int
	scrolls int
}

func newMemVectors() *memVectors {
	return &memVectors{points: make(map[string]memPoint)}
}

func (m *memVectors) Upsert(_ context.Context, id string, v []float32, p *repository.ArtworkPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.seq
	if old, ok := m.points[id]; ok {
		seq = old.seq
	} else {
		m.seq++
	}
	m.points[id] = memPoint{vector: append([]float32{}, v...), payload: *p, seq: seq}
	return nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		if i < len(b) {
			s += a[i] * b[i]
		}
	}
	return s
}

func (m *memVectors) Search(_ context.Context, v []float32, limit int) ([]repository.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.SearchResult
	for id, p := range m.points {
		payload := p.payload
		out = append(out, repository.SearchResult{ID: id, Score: dot(v, p.vector), Payload: &payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memVectors) ordered(filter repository.TagFilter) []repository.SearchResult {
	type entry struct {
		id string
		p  memPoint
	}
	var all []entry
	for id, p := range m.points {
		all = append(all, entry{id, p})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].p.seq < all[j].p.seq })

	var out []repository.SearchResult
	for _, e := range all {
		if filter.GroupSets && e.p.payload.PageNo != nil && *e.p.payload.PageNo != 0 {
			continue
		}
		have := map[string]bool{}
		for _, t := range e.p.payload.Tags {
			have[t] = true
		}
		ok := true
		for _, t := range filter.Tags {
			if !have[t] {
				ok = false
			}
		}
		if ok {
			payload := e.p.payload
			out = append(out, repository.SearchResult{ID: e.id, Payload: &payload})
		}
	}
	return out
}

func (m *memVectors) Scroll(_ context.Context, filter repository.TagFilter, limit int, cursor string) ([]repository.SearchResult, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrolls++
	all := m.ordered(filter)
	start := 0
	if cursor != "" {
		for i, r := range all {
			if r.ID == cursor {
				start = i
			}
		}
	}
	end := start + limit
	if end >= len(all) {
		return all[start:], "", nil
	}
	return all[start:end], all[end].ID, nil
}

func (m *memVectors) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

func (m *memVectors) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	headErr map[string]error
	onPut   func(hash string)
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte), headErr: make(map[string]error)}
}

func (m *memBlobs) Put(_ context.Context, hash string, data []byte, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := storage.BlobKey(hash, ext)
	m.objects[ref] = append([]byte{}, data...)
	if m.onPut != nil {
		m.onPut(hash)
	}
	return ref, nil
}

func (m *memBlobs) Head(_ context.Context, ref string) (*storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.headErr[ref]; err != nil {
		return nil, err
	}
	data, ok := m.objects[ref]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{Key: ref, Size: int64(len(data))}, nil
}

func (m *memBlobs) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memBlobs) URL(ref string) string { return "https://cdn.example/" + ref }

func (m *memBlobs) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

// fakeEmbedder returns a fixed vector per image, or per text for text-only calls.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, image []byte, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := string(image)
	if image == nil {
		key = text
	}
	if v, ok := f.vectors[key]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

type fakeTranslator struct {
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, text, lang string) (string, error) {
	f.calls++
	return "[" + lang + "] " + text, nil
}

type fakeFetcher struct {
	payloads map[string][]byte
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, item source.Item) ([]byte, error) {
	f.calls++
	if data, ok := f.payloads[item.URL]; ok {
		return data, nil
	}
	return nil, domain.ErrUpstreamFetch
}

type queuedIndex struct {
	id    string
	delay time.Duration
}

type fakeQueue struct {
	mu      sync.Mutex
	items   []source.Item
	indexed []queuedIndex
	pending map[string]bool
}

func (q *fakeQueue) EnqueueIngestItem(_ context.Context, _ string, item source.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) EnqueueIndexEmbedding(_ context.Context, id string, delay time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[id] {
		return false, nil
	}
	q.indexed = append(q.indexed, queuedIndex{id: id, delay: delay})
	return true, nil
}

type fakeRuns struct {
	saved []domain.IngestRun
}

func (f *fakeRuns) Create(context.Context, *domain.IngestRun) error { return nil }

func (f *fakeRuns) Save(_ context.Context, run *domain.IngestRun) error {
	f.saved = append(f.saved, *run)
	return nil
}

func unit(v ...float32) []float32 {
	var s float64
	for _, x := range v {
		s += float64(x * x)
	}
	n := float32(math.Sqrt(s))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func int64p(v int64) *int64 { return &v }
func intp(v int) *int { return &v }
