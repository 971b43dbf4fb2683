package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/config"
	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/notify"
	"github.com/alanyoungcy/gflexbot/internal/platform/glocalflex"
	"github.com/alanyoungcy/gflexbot/internal/session"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type placedOrder struct {
	token string
	side  string
}

// marketplace fakes the token and order endpoints. Tokens are "tok-<user>".
type marketplace struct {
	*httptest.Server

	mu     sync.Mutex
	grants []string
	orders []placedOrder
	status int
}

func newMarketplace(t *testing.T) *marketplace {
	t.Helper()
	m := &marketplace{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+glocalflex.DefaultAuthPath, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		user := r.PostForm.Get("username")
		m.mu.Lock()
		m.grants = append(m.grants, user)
		m.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok-" + user,
			"refresh_token": "ref-" + user,
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("POST "+glocalflex.DefaultOrderPath, func(w http.ResponseWriter, r *http.Request) {
		var p glocalflex.OrderPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode order: %v", err)
		}
		m.mu.Lock()
		m.orders = append(m.orders, placedOrder{
			token: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
			side:  p.Side,
		})
		status := m.status
		m.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, `{"id":1}`)
	})
	m.Server = httptest.NewTLSServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *marketplace) snapshot() ([]string, []placedOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.grants...), append([]placedOrder(nil), m.orders...)
}

func testConfig(host string) *config.Config {
	cfg := config.Defaults()
	cfg.Market.Host = host
	cfg.Market.SSLVerify = false
	cfg.User = config.UserConfig{Username: "alice", Password: "pw"}
	cfg.Params.RunOnce = true
	cfg.Params.Test = true
	return &cfg
}

func TestTradeModeRunOnce(t *testing.T) {
	m := newMarketplace(t)
	cfg := testConfig(m.URL)
	cfg.Params.Side = "sell"

	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v", err)
	}

	grants, orders := m.snapshot()
	if len(grants) != 1 || grants[0] != "alice" {
		t.Errorf("grants = %v", grants)
	}
	if len(orders) != 1 || orders[0] != (placedOrder{token: "tok-alice", side: "sell"}) {
		t.Errorf("orders = %v", orders)
	}

	snaps := a.Sessions().Snapshots()
	if len(snaps) != 1 || snaps[0].Accepted != 1 || snaps[0].FinishedAt == nil {
		t.Errorf("sessions = %+v", snaps)
	}
}

func TestDualModeUsesIndependentCredentials(t *testing.T) {
	m := newMarketplace(t)
	cfg := testConfig(m.URL)
	cfg.Mode = ModeDual
	cfg.Accounts.Buyer = config.UserConfig{Username: "bob", Password: "b"}
	cfg.Accounts.Seller = config.UserConfig{Username: "carol", Password: "c"}

	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v", err)
	}

	grants, orders := m.snapshot()
	if len(grants) != 2 {
		t.Fatalf("grants = %v", grants)
	}
	want := map[placedOrder]bool{
		{token: "tok-bob", side: "buy"}:    true,
		{token: "tok-carol", side: "sell"}: true,
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %v", orders)
	}
	for _, o := range orders {
		if !want[o] {
			t.Errorf("unexpected order %+v", o)
		}
	}
	if n := len(a.Sessions().Snapshots()); n != 2 {
		t.Errorf("sessions = %d", n)
	}
}

func TestSimulateMode(t *testing.T) {
	m := newMarketplace(t)
	cfg := testConfig(m.URL)
	cfg.Mode = ModeSimulate
	cfg.Simulation.RunTime = cfg.Simulation.SleepTime // one short window
	cfg.Simulation.Workers = 2
	cfg.Simulation.Traders = []config.TraderConfig{
		{Username: "t1", Password: "p", Side: "buy", QuantityMin: 100, QuantityMax: 500, PriceMin: 1, PriceMax: 2, Probability: 1},
		{Username: "t2", Password: "p", Side: "sell", QuantityMin: 100, QuantityMax: 500, PriceMin: 1, PriceMax: 2, Probability: 1},
		{Username: "t3", Password: "p", Side: "buy", Probability: 0},
	}

	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v", err)
	}

	_, orders := m.snapshot()
	bySide := map[string]int{}
	for _, o := range orders {
		if o.token == "tok-t3" {
			t.Error("trader with probability 0 ordered")
		}
		bySide[o.token+"/"+o.side]++
	}
	if bySide["tok-t1/buy"] == 0 || bySide["tok-t2/sell"] == 0 {
		t.Errorf("orders = %v", bySide)
	}
	for _, st := range a.Sessions().Snapshots() {
		if st.StartedAt.IsZero() || st.FinishedAt == nil {
			t.Errorf("session %s not started and finished: %+v", st.Account, st)
		}
	}
}

type fakeLocks struct {
	err      error
	acquired []string
	released int
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired = append(f.acquired, key)
	return func() { f.released++ }, nil
}

func (f *fakeLocks) Extend(context.Context, string, time.Duration) error { return nil }

func TestTradeModeLockHeld(t *testing.T) {
	m := newMarketplace(t)
	a := New(testConfig(m.URL), discard())
	deps := &Dependencies{HTTPClient: m.Client(), Locks: &fakeLocks{err: domain.ErrLockHeld}}

	err := a.TradeMode(context.Background(), deps)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if _, orders := m.snapshot(); len(orders) != 0 {
		t.Errorf("orders sent without the lock: %v", orders)
	}
}

func TestTradeModeHoldsAndReleasesLock(t *testing.T) {
	m := newMarketplace(t)
	a := New(testConfig(m.URL), discard())
	locks := &fakeLocks{}
	deps := &Dependencies{HTTPClient: m.Client(), Locks: locks}

	if err := a.TradeMode(context.Background(), deps); err != nil {
		t.Fatalf("TradeMode = %v", err)
	}
	want := "session:" + m.URL + ":alice:buy"
	if len(locks.acquired) != 1 || locks.acquired[0] != want {
		t.Errorf("acquired = %v, want %s", locks.acquired, want)
	}
	if locks.released != 1 {
		t.Errorf("released = %d", locks.released)
	}
}

type fakeLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeLimiter) Wait(_ context.Context, key string, limit int, window time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, fmt.Sprintf("%s/%d/%s", key, limit, window))
	return nil
}

func TestSubmissionThrottleWired(t *testing.T) {
	m := newMarketplace(t)
	cfg := testConfig(m.URL)
	cfg.Redis.RateLimitPerMinute = 12
	limiter := &fakeLimiter{}
	a := New(cfg, discard())

	if err := a.TradeMode(context.Background(), &Dependencies{HTTPClient: m.Client(), RateLimiter: limiter}); err != nil {
		t.Fatalf("TradeMode = %v", err)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "submit:alice:buy/12/1m0s" {
		t.Errorf("limiter calls = %v", limiter.keys)
	}
}

func TestMissingPasswordFailsFast(t *testing.T) {
	m := newMarketplace(t)
	cfg := testConfig(m.URL)
	cfg.User.Password = ""
	a := New(cfg, discard())
	if err := a.TradeMode(context.Background(), &Dependencies{HTTPClient: m.Client()}); err == nil {
		t.Fatal("expected an error without a password source")
	}
}

func TestBackgroundSwallowsOwnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	run := background(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()
	if err := run(); err != nil {
		t.Errorf("background = %v", err)
	}

	boom := errors.New("boom")
	if err := background(context.Background(), func(context.Context) error { return boom })(); !errors.Is(err, boom) {
		t.Errorf("background = %v, want boom", err)
	}
}

// --- observer ---

type fakeJournal struct {
	mu      sync.Mutex
	inserts []domain.Submission
	err     error
}

func (f *fakeJournal) Insert(_ context.Context, s domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, s)
	return f.err
}

func (f *fakeJournal) ListBySession(context.Context, string) ([]domain.Submission, error) {
	return nil, nil
}

func (f *fakeJournal) ListRecent(context.Context, domain.Side, domain.ListOpts) ([]domain.Submission, error) {
	return nil, nil
}

func (f *fakeJournal) CountByOutcome(context.Context, time.Time) (map[string]int64, error) {
	return nil, nil
}

type fakeAudit struct{ events []string }

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeBus struct {
	published map[string][]byte
	feed      chan []byte
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.published[channel] = payload
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return f.feed, nil }

type fakeArchiver struct{ archived []string }

func (f *fakeArchiver) ArchiveSession(_ context.Context, id string, side domain.Side) (string, int, error) {
	f.archived = append(f.archived, id)
	return "sessions/" + side.String() + "/" + id + ".jsonl", 1, nil
}

type fakeSender struct{ titles []string }

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func TestObserverFansOut(t *testing.T) {
	journal := &fakeJournal{err: errors.New("db down")}
	audit := &fakeAudit{}
	bus := &fakeBus{published: map[string][]byte{}}
	archiver := &fakeArchiver{}
	sender := &fakeSender{}
	deps := &Dependencies{
		Submissions: journal,
		Audit:       audit,
		Bus:         bus,
		Archiver:    archiver,
		Notifier:    notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventOrderRejected, notify.EventSessionFinished}, discard()),
	}
	o := newObserver(deps, "gflex.example", discard())

	st := session.Stats{SessionID: "s-1", Account: "alice", Side: domain.SideSell}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // sinks must still run after an interrupt

	o.SessionStarted(ctx, st)
	o.CycleCompleted(ctx, domain.Submission{SessionID: "s-1", Side: domain.SideSell, Cycle: 1, Outcome: "rejected", StatusCode: 422})
	o.AuthFailed(ctx, st, 2)
	st.Cycles = 1
	o.SessionFinished(ctx, st)

	if len(journal.inserts) != 1 {
		t.Errorf("journal inserts = %d", len(journal.inserts))
	}
	var sub domain.Submission
	if err := json.Unmarshal(bus.published["gflex:orders:sell"], &sub); err != nil || sub.StatusCode != 422 {
		t.Errorf("published = %s (%v)", bus.published["gflex:orders:sell"], err)
	}
	wantEvents := []string{"session.started", "auth.failed", "session.finished"}
	if strings.Join(audit.events, ",") != strings.Join(wantEvents, ",") {
		t.Errorf("audit = %v", audit.events)
	}
	if len(sender.titles) != 2 ||
		!strings.Contains(sender.titles[0], "rejected") ||
		!strings.Contains(sender.titles[1], "finished") {
		t.Errorf("notifications = %v", sender.titles)
	}
	if len(archiver.archived) != 1 || archiver.archived[0] != "s-1" {
		t.Errorf("archived = %v", archiver.archived)
	}
}

func TestObserverSkipsArchiveForEmptySession(t *testing.T) {
	archiver := &fakeArchiver{}
	o := newObserver(&Dependencies{Archiver: archiver}, "h", discard())
	o.SessionFinished(context.Background(), session.Stats{SessionID: "s-0"})
	if len(archiver.archived) != 0 {
		t.Errorf("archived = %v", archiver.archived)
	}
}

func TestAuthAlertsAreThinned(t *testing.T) {
	sender := &fakeSender{}
	deps := &Dependencies{Notifier: notify.NewNotifier([]notify.Sender{sender}, nil, discard())}
	o := newObserver(deps, "h", discard())
	for attempt := 1; attempt <= 20; attempt++ {
		o.AuthFailed(context.Background(), session.Stats{Account: "alice"}, attempt)
	}
	if len(sender.titles) != 3 {
		t.Errorf("alerts = %d, want attempts 1, 10 and 20", len(sender.titles))
	}
}

func TestWatchLogsOutcomes(t *testing.T) {
	bus := &fakeBus{feed: make(chan []byte, 3)}
	accepted, _ := json.Marshal(domain.Submission{SessionID: "s-1", Side: domain.SideBuy, Outcome: "accepted", StatusCode: 200})
	bus.feed <- accepted
	bus.feed <- []byte("not json")
	bus.feed <- accepted
	close(bus.feed)

	var buf strings.Builder
	a := New(testConfig("h"), slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := a.watch(context.Background(), bus, "gflex:orders:*"); err != nil {
		t.Fatalf("watch: %v", err)
	}

	out := buf.String()
	if n := strings.Count(out, `"msg":"order outcome"`); n != 2 {
		t.Errorf("outcome lines = %d, want 2\n%s", n, out)
	}
	if !strings.Contains(out, "undecodable outcome event") {
		t.Error("bad payload not reported")
	}
	if !strings.Contains(out, `"outcomes":{"accepted":2}`) {
		t.Errorf("summary missing from\n%s", out)
	}
}

func TestWatchModeNeedsBus(t *testing.T) {
	a := New(testConfig("h"), discard())
	if err := a.WatchMode(context.Background(), &Dependencies{}); err == nil {
		t.Fatal("expected error without an event bus")
	}
}

func TestStopAlertReachesEverySender(t *testing.T) {
	sender := &fakeSender{}
	deps := &Dependencies{Notifier: notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventSessionStarted}, discard())}
	a := New(testConfig("h"), discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.alertStopped(ctx, deps, errors.New("lock lost"))

	if len(sender.titles) != 1 || sender.titles[0] != "gflexbot stopped" {
		t.Errorf("alerts = %v", sender.titles)
	}
}
