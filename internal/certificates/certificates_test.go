package certificates

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/preesha73/Amdox-Website/internal/artifacts"
	studentimport "github.com/preesha73/Amdox-Website/internal/import"
	"github.com/preesha73/Amdox-Website/internal/metrics"
	"github.com/preesha73/Amdox-Website/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore is an in-memory certificate store keyed by certId.
type mockStore struct {
	mu        sync.Mutex
	certs     map[string]*models.Certificate
	failAt    map[int]error
	insertErr error
	getErr    error
	calls     int
}

func newMockStore() *mockStore {
	return &mockStore{certs: map[string]*models.Certificate{}, failAt: map[int]error{}}
}

func (m *mockStore) InsertCertificates(_ context.Context, certs []*models.Certificate) ([]models.InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.insertErr != nil {
		return nil, m.insertErr
	}

	outcomes := make([]models.InsertOutcome, 0, len(certs))
	for i, c := range certs {
		o := models.InsertOutcome{Index: i, CertID: c.CertID}
		switch {
		case m.failAt[i] != nil:
			o.Status = models.InsertStatusFailed
			o.Err = m.failAt[i]
		case m.certs[c.CertID] != nil:
			o.Status = models.InsertStatusDuplicate
		default:
			m.certs[c.CertID] = c
			o.Status = models.InsertStatusInserted
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (m *mockStore) GetCertificateByCertID(_ context.Context, certID string) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.certs[certID]
	if !ok {
		return nil, models.ErrCertificateNotFound
	}
	return c, nil
}

func newTestMetrics(t *testing.T) *metrics.PrometheusMetrics {
	t.Helper()
	m, err := metrics.NewPrometheusMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func threeRowResult() *studentimport.Result {
	return &studentimport.Result{
		Valid: []studentimport.Row{{Number: 2, Name: "A", Email: "a@x.com", Course: "Go"}},
		Skipped: []models.SkippedRow{
			{Row: 3, Reason: models.SkipReasonMissingRequiredFields},
			{Row: 4, Reason: models.SkipReasonInvalidEmail, Email: "bad"},
		},
	}
}

func TestIssuer_ThreeRowScenario(t *testing.T) {
	store := newMockStore()
	issuer := NewIssuer(store, newTestMetrics(t), zerolog.Nop())
	fixed := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	summary, err := issuer.Issue(context.Background(), threeRowResult())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, summary.InsertedCertIDs, 1)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, MessageImportComplete, summary.Message)
	assert.Empty(t, summary.Errors)

	stored := store.certs[summary.InsertedCertIDs[0]]
	require.NotNil(t, stored)
	assert.Equal(t, "A", stored.Name)
	assert.Equal(t, "Go", stored.Course)
	assert.Equal(t, fixed, stored.IssuedAt)
}

func TestIssuer_NoValidRows(t *testing.T) {
	store := newMockStore()
	issuer := NewIssuer(store, nil, zerolog.Nop())

	result := &studentimport.Result{
		Skipped: []models.SkippedRow{{Row: 2, Reason: models.SkipReasonMissingRequiredFields}},
	}
	summary, err := issuer.Issue(context.Background(), result)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Inserted)
	assert.NotNil(t, summary.InsertedCertIDs)
	assert.Empty(t, summary.InsertedCertIDs)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, MessageNoValidRows, summary.Message)
	assert.Equal(t, 0, store.calls, "store must not be touched")
}

func TestIssuer_UniqueIDs(t *testing.T) {
	store := newMockStore()
	issuer := NewIssuer(store, nil, zerolog.Nop())

	result := &studentimport.Result{}
	for i := range 200 {
		result.Valid = append(result.Valid, studentimport.Row{Number: i + 2, Name: "N", Course: "C"})
	}

	summary, err := issuer.Issue(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, 200, summary.Inserted)

	seen := map[string]bool{}
	for _, id := range summary.InsertedCertIDs {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestIssuer_InjectedDuplicate(t *testing.T) {
	store := newMockStore()
	store.certs["fixed-id"] = &models.Certificate{CertID: "fixed-id"}

	issuer := NewIssuer(store, newTestMetrics(t), zerolog.Nop())
	n := 0
	issuer.build = func(name, course, email string, issuedAt time.Time) *models.Certificate {
		n++
		c := models.NewCertificate(name, course, email, issuedAt)
		if n == 2 {
			c.CertID = "fixed-id"
		}
		return c
	}

	result := &studentimport.Result{Valid: []studentimport.Row{
		{Number: 2, Name: "A", Course: "Go"},
		{Number: 3, Name: "B", Course: "Go"},
		{Number: 4, Name: "C", Course: "Go"},
	}}

	summary, err := issuer.Issue(context.Background(), result)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Inserted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 1, summary.Errors[0].Index)
	assert.Equal(t, "fixed-id", summary.Errors[0].CertID)
	assert.Equal(t, "duplicate certificate id", summary.Errors[0].Message)
	assert.NotContains(t, summary.InsertedCertIDs, "fixed-id")
}

func TestIssuer_PerRecordFailure(t *testing.T) {
	store := newMockStore()
	store.failAt[0] = errors.New("value too long for column")

	issuer := NewIssuer(store, nil, zerolog.Nop())
	result := &studentimport.Result{Valid: []studentimport.Row{
		{Number: 2, Name: "A", Course: "Go"},
		{Number: 3, Name: "B", Course: "Go"},
	}}

	summary, err := issuer.Issue(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 0, summary.Errors[0].Index)
	assert.Equal(t, "insert failed", summary.Errors[0].Message)
}

func TestIssuer_StoreUnavailable(t *testing.T) {
	store := newMockStore()
	store.insertErr = errors.New("dial tcp: connection refused")

	issuer := NewIssuer(store, nil, zerolog.Nop())
	_, err := issuer.Issue(context.Background(), threeRowResult())
	require.ErrorIs(t, err, ErrImportFailed)
}

func TestVerifier(t *testing.T) {
	store := newMockStore()
	cert := models.NewCertificate("Ada", "Maths", "ada@example.com", time.Now())
	store.certs[cert.CertID] = cert

	v := NewVerifier(store, newTestMetrics(t), zerolog.Nop())

	t.Run("hit", func(t *testing.T) {
		resp, err := v.Verify(context.Background(), cert.CertID)
		require.NoError(t, err)
		assert.True(t, resp.Verified)
		assert.Equal(t, cert.CertID, resp.CertID)
		assert.Equal(t, "Ada", resp.Name)
		assert.Equal(t, "Maths", resp.Course)
		require.NotNil(t, resp.IssuedAt)
		assert.True(t, resp.IssuedAt.Equal(cert.IssuedAt))
	})

	t.Run("case sensitive miss", func(t *testing.T) {
		_, err := v.Verify(context.Background(), strings.ToUpper(cert.CertID))
		assert.ErrorIs(t, err, models.ErrCertificateNotFound)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "")
		assert.ErrorIs(t, err, models.ErrCertificateNotFound)
	})

	t.Run("store error", func(t *testing.T) {
		broken := newMockStore()
		broken.getErr = errors.New("connection reset")
		_, err := NewVerifier(broken, nil, zerolog.Nop()).Verify(context.Background(), "x")
		require.Error(t, err)
		assert.False(t, errors.Is(err, models.ErrCertificateNotFound))
	})
}

func TestRenderHTML(t *testing.T) {
	cert := &models.Certificate{
		CertID:   "abc-123",
		Name:     `<script>alert("x")</script>`,
		Course:   "Tom & Jerry's",
		IssuedAt: time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC),
	}

	html, err := RenderHTML(cert)
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "Tom &amp; Jerry&#39;s")
	assert.Contains(t, html, "March 9, 2025")
	assert.Contains(t, html, "abc-123")
	assert.Contains(t, html, "Certificate of Completion")
}

// countingRenderer counts renders and optionally blocks until released.
type countingRenderer struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *countingRenderer) RenderPDF(ctx context.Context, _ string) ([]byte, error) {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 rendered"), nil
}

func newPDFFixture(t *testing.T, renderer Renderer) (*PDFService, *artifacts.LocalStore, *models.Certificate) {
	t.Helper()
	store := newMockStore()
	cert := models.NewCertificate("Ada", "Maths", "", time.Now())
	store.certs[cert.CertID] = cert

	cache, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	svc := NewPDFService(store, cache, renderer, time.Second, newTestMetrics(t), zerolog.Nop())
	return svc, cache, cert
}

func readPDF(t *testing.T, pdf *PDF) string {
	t.Helper()
	defer pdf.Body.Close()
	data, err := io.ReadAll(pdf.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPDFService_RenderOnceThenCache(t *testing.T) {
	renderer := &countingRenderer{}
	svc, _, cert := newPDFFixture(t, renderer)
	ctx := context.Background()

	first, err := svc.Get(ctx, cert.CertID)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	body1 := readPDF(t, first)

	second, err := svc.Get(ctx, cert.CertID)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	body2 := readPDF(t, second)

	assert.Equal(t, body1, body2)
	assert.Equal(t, int32(1), renderer.calls.Load())
	assert.Equal(t, "certificate_"+cert.CertID+".pdf", second.Filename())
}

func TestPDFService_PreexistingArtifact(t *testing.T) {
	renderer := &countingRenderer{}
	svc, cache, cert := newPDFFixture(t, renderer)

	require.NoError(t, cache.Put(context.Background(), CacheKey(cert.CertID), []byte("%PDF-1.4 old")))

	pdf, err := svc.Get(context.Background(), cert.CertID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 old", readPDF(t, pdf))
	assert.Equal(t, int32(0), renderer.calls.Load())
}

func TestPDFService_NotFound(t *testing.T) {
	renderer := &countingRenderer{}
	svc, _, _ := newPDFFixture(t, renderer)

	_, err := svc.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, models.ErrCertificateNotFound)
	assert.Equal(t, int32(0), renderer.calls.Load())
}

func TestPDFService_RenderFailureLeavesCacheEmpty(t *testing.T) {
	renderer := &countingRenderer{err: errors.New("chrome crashed")}
	svc, cache, cert := newPDFFixture(t, renderer)

	_, err := svc.Get(context.Background(), cert.CertID)
	require.ErrorIs(t, err, ErrRenderFailed)

	_, _, err = cache.Open(context.Background(), CacheKey(cert.CertID))
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestPDFService_ConcurrentMissesShareRender(t *testing.T) {
	renderer := &countingRenderer{release: make(chan struct{})}
	svc, _, cert := newPDFFixture(t, renderer)

	const callers = 5
	var wg sync.WaitGroup
	bodies := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pdf, err := svc.Get(context.Background(), cert.CertID)
			errs[i] = err
			if err == nil {
				data, _ := io.ReadAll(pdf.Body)
				pdf.Body.Close()
				bodies[i] = string(data)
			}
		}()
	}

	require.Eventually(t, func() bool { return renderer.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(renderer.release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "%PDF-1.4 rendered", bodies[i])
	}
	assert.Equal(t, int32(1), renderer.calls.Load())
}

func TestPDFService_CallerCancelDoesNotAbortRender(t *testing.T) {
	renderer := &countingRenderer{release: make(chan struct{})}
	svc, cache, cert := newPDFFixture(t, renderer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Get(ctx, cert.CertID)
		done <- err
	}()

	require.Eventually(t, func() bool { return renderer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(renderer.release)

	require.Eventually(t, func() bool {
		rc, _, err := cache.Open(context.Background(), CacheKey(cert.CertID))
		if err != nil {
			return false
		}
		rc.Close()
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestPDFService_RenderTimeout(t *testing.T) {
	renderer := &countingRenderer{release: make(chan struct{})}
	store := newMockStore()
	cert := models.NewCertificate("Ada", "Maths", "", time.Now())
	store.certs[cert.CertID] = cert
	cache, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	svc := NewPDFService(store, cache, renderer, 20*time.Millisecond, nil, zerolog.Nop())

	_, err = svc.Get(context.Background(), cert.CertID)
	require.ErrorIs(t, err, ErrRenderFailed)

	_, _, err = cache.Open(context.Background(), CacheKey(cert.CertID))
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}
