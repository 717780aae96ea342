package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/events"
)

var (
	errNotFound = errors.New("instrument not found")
	errExists   = errors.New("instrument already tracked")
	errBusy     = errors.New("cycle already in progress")
)

type fakeCycler struct {
	mu      sync.Mutex
	phase   domain.CyclePhase
	runs    []bool
	err     error
	holding bool
}

func (f *fakeCycler) RunCycle(_ context.Context, manual bool) (domain.CycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.CycleReport{}, f.err
	}
	f.runs = append(f.runs, manual)
	return domain.CycleReport{CycleID: "c1", Trigger: domain.TriggerFor(manual), Phase: domain.PhaseDone, Processed: 2}, nil
}

func (f *fakeCycler) Phase() domain.CyclePhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == "" {
		return domain.PhaseIdle
	}
	return f.phase
}

func (f *fakeCycler) LastReport() *domain.CycleReport {
	return &domain.CycleReport{CycleID: "c0"}
}

func (f *fakeCycler) Hold() (func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holding || (f.phase != "" && f.phase != domain.PhaseIdle) {
		return nil, false
	}
	f.holding = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.holding = false
	}, true
}

func (f *fakeCycler) held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holding
}

func (f *fakeCycler) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type memStore struct {
	items  map[string]domain.Instrument
	onSave func()
}

func (m *memStore) List(context.Context) ([]domain.Instrument, error) {
	out := make([]domain.Instrument, 0, len(m.items))
	for _, i := range m.items {
		out = append(out, i)
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, symbol string) (domain.Instrument, error) {
	i, ok := m.items[symbol]
	if !ok {
		return domain.Instrument{}, errNotFound
	}
	return i, nil
}

func (m *memStore) Create(_ context.Context, inst domain.Instrument) (domain.Instrument, error) {
	if _, ok := m.items[inst.Symbol]; ok {
		return domain.Instrument{}, errExists
	}
	inst.Position = len(m.items) + 1
	m.items[inst.Symbol] = inst
	return inst, nil
}

func (m *memStore) Save(_ context.Context, inst domain.Instrument) error {
	if m.onSave != nil {
		m.onSave()
	}
	m.items[inst.Symbol] = inst
	return nil
}

func (m *memStore) Delete(_ context.Context, symbol string) error {
	if _, ok := m.items[symbol]; !ok {
		return errNotFound
	}
	delete(m.items, symbol)
	return nil
}

type fakeAudit struct {
	records []domain.AuditRecordEntry
}

func (f *fakeAudit) AuditRecordsAfter(index uint64) ([]domain.AuditRecordEntry, error) {
	var out []domain.AuditRecordEntry
	for _, r := range f.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAudit) OracleCallsAfter(uint64) ([]domain.OracleCallEntry, error) {
	return []domain.OracleCallEntry{{Index: 3, Call: domain.OracleCall{Symbol: "TCS", Flow: domain.FlowBuy}}}, nil
}

func (f *fakeAudit) CycleReportsAfter(uint64) ([]domain.CycleReportEntry, error) { return nil, nil }

func (f *fakeAudit) LastMarketState() (*domain.MarketStateRecord, error) {
	return &domain.MarketStateRecord{State: domain.MarketOpen, Label: "market open"}, nil
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return f.err
}

type fixture struct {
	srv      *Server
	cycler   *fakeCycler
	store    *memStore
	notifier *fakeNotifier
	events   *events.Broadcaster
}

func newFixture(token string) *fixture {
	f := &fixture{
		cycler: &fakeCycler{},
		store: &memStore{items: map[string]domain.Instrument{
			"NIFTYBEES": {Symbol: "NIFTYBEES", Exchange: "NSE", Mode: domain.ModeSIP, SIPAmount: decimal.NewFromInt(5000), SIPFrequencyDays: 30},
		}},
		notifier: &fakeNotifier{},
		events:   events.NewBroadcaster(8),
	}
	f.srv = NewServer(Options{
		Token:       token,
		Info:        Info{Version: "test", Broker: "paper", Active: true},
		Cycler:      f.cycler,
		Instruments: f.store,
		Audit: &fakeAudit{records: []domain.AuditRecordEntry{
			{Index: 1, Record: domain.AuditRecord{Symbol: "NIFTYBEES"}},
			{Index: 2, Record: domain.AuditRecord{Symbol: "TCS"}},
		}},
		Events:     f.events,
		Notifier:   f.notifier,
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("sipbot_cycles_total 1\n")) }),
		IsNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		IsConflict: func(err error) bool { return errors.Is(err, errExists) },
		IsBusy:     func(err error) bool { return errors.Is(err, errBusy) },
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatus(t *testing.T) {
	f := newFixture("")
	rec := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "IDLE", body["phase"])
	assert.Equal(t, "c0", body["last_cycle"].(map[string]any)["cycle_id"])
	assert.Equal(t, "open", body["market"].(map[string]any)["state"])
}

func TestAuth(t *testing.T) {
	f := newFixture("secret")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/status", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/status", nil, "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestCycle_Wait(t *testing.T) {
	f := newFixture("")
	rec := f.do(t, http.MethodPost, "/api/cycle?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rep := decode(t, rec)["report"].(map[string]any)
	assert.Equal(t, "manual", rep["trigger"])
	assert.Equal(t, []bool{true}, f.cycler.runs)

	f.cycler.err = errBusy
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/cycle?wait=true", nil).Code)
}

func TestCycle_Background(t *testing.T) {
	f := newFixture("")
	rec := f.do(t, http.MethodPost, "/api/cycle?manual=false", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return f.cycler.runCount() == 1 }, time.Second, 5*time.Millisecond)

	f.cycler.mu.Lock()
	assert.Equal(t, []bool{false}, f.cycler.runs)
	f.cycler.phase = domain.PhaseIterating
	f.cycler.mu.Unlock()

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/cycle", nil).Code)
}

func TestInstrumentsCRUD(t *testing.T) {
	f := newFixture("")

	rec := f.do(t, http.MethodPost, "/api/instruments", map[string]any{"symbol": "tcs", "mode": "buy", "token": "11536"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := f.store.items["TCS"]
	assert.Equal(t, domain.ModeBuy, created.Mode)
	assert.Equal(t, "1", created.OrderQuantity.String())
	assert.Equal(t, "NSE", created.Exchange)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/instruments", map[string]any{"symbol": "TCS"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/instruments", map[string]any{"symbol": "X", "mode": "yolo"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/instruments", map[string]any{"mode": "sip"}).Code)

	rec = f.do(t, http.MethodPut, "/api/instruments/niftybees", map[string]any{"sip_amount": "7500", "notes": "index fund"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "7500", f.store.items["NIFTYBEES"].SIPAmount.String())
	assert.Equal(t, "index fund", f.store.items["NIFTYBEES"].Notes)
	assert.Equal(t, domain.ModeSIP, f.store.items["NIFTYBEES"].Mode)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/instruments/NOPE", map[string]any{"notes": "x"}).Code)

	rec = f.do(t, http.MethodGet, "/api/instruments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["instruments"], 2)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/instruments/TCS", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/instruments/TCS", nil).Code)
}

func TestInstrumentEditsRejectedDuringCycle(t *testing.T) {
	f := newFixture("")
	f.cycler.phase = domain.PhaseIterating

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/api/instruments/NIFTYBEES", nil).Code)
	assert.Contains(t, f.store.items, "NIFTYBEES")
}

func TestInstrumentEditHoldsCycleSlot(t *testing.T) {
	f := newFixture("")
	var heldDuringSave bool
	f.store.onSave = func() { heldDuringSave = f.cycler.held() }

	rec := f.do(t, http.MethodPut, "/api/instruments/NIFTYBEES", map[string]any{"notes": "hold"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, heldDuringSave)
	assert.False(t, f.cycler.held())

	release, ok := f.cycler.Hold()
	require.True(t, ok)
	defer release()
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPut, "/api/instruments/NIFTYBEES", map[string]any{"notes": "late"}).Code)
	assert.Equal(t, "hold", f.store.items["NIFTYBEES"].Notes)
}

func TestAuditListing(t *testing.T) {
	f := newFixture("")

	rec := f.do(t, http.MethodGet, "/api/audit?after=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode(t, rec)["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, float64(2), records[0].(map[string]any)["index"])

	rec = f.do(t, http.MethodGet, "/api/audit?symbol=niftybees", nil)
	assert.Len(t, decode(t, rec)["records"], 1)

	rec = f.do(t, http.MethodGet, "/api/audit?limit=1", nil)
	assert.Len(t, decode(t, rec)["records"], 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/audit?after=-1", nil).Code)

	rec = f.do(t, http.MethodGet, "/api/oracle-calls", nil)
	assert.Len(t, decode(t, rec)["calls"], 1)

	rec = f.do(t, http.MethodGet, "/api/cycles", nil)
	assert.Equal(t, []any{}, decode(t, rec)["cycles"])
}

func TestTestNotification(t *testing.T) {
	f := newFixture("")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/notify/test", nil).Code)
	require.Len(t, f.notifier.sent, 1)

	f.notifier.err = errors.New("chat not found")
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/notify/test", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture("secret")
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sipbot_cycles_total")
}

func TestEventsStream(t *testing.T) {
	f := newFixture("")
	srv := httptest.NewServer(f.srv.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	f.events.Publish(events.CycleEvent{Type: events.TypePhase, CycleID: "c9", Phase: domain.PhaseGating})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event:phase", lines[0])
	assert.Contains(t, lines[1], `"cycle_id":"c9"`)
}
