package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/risk"
	"github.com/vadiminshakov/ckvault/internal/services/snapshot"
	"github.com/vadiminshakov/ckvault/internal/storage/flowjournal"
)

type memConfirmations struct {
	mu      sync.Mutex
	records []domain.ConfirmationRecord
}

func (m *memConfirmations) add(s domain.ConfirmationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, domain.ConfirmationRecord{Index: uint64(len(m.records) + 1), State: s})
}

func (m *memConfirmations) RecordsAfter(index uint64) ([]domain.ConfirmationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConfirmationRecord
	for _, r := range m.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

type memFlows struct {
	entries []flowjournal.Entry
}

func (m *memFlows) EntriesAfter(index uint64) ([]flowjournal.Entry, error) {
	var out []flowjournal.Entry
	for _, e := range m.entries {
		if e.Index > index {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeRisk struct {
	mu        sync.Mutex
	current   *snapshot.Snapshot
	next      *snapshot.Snapshot
	err       error
	refreshed int
}

func (f *fakeRisk) Current() *snapshot.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeRisk) Refresh(context.Context) (*snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	if f.err != nil {
		return nil, f.err
	}
	f.current = f.next
	return f.next, nil
}

func (f *fakeRisk) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshed
}

func testSnapshot() *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		Account:  "mxzaz-hqaaa-aaaar-qaada-cai",
		Config:   domain.ProtocolConfig{MaxLtvBps: 7000, LiquidationLtvBps: 8500, InterestRateBps: 500},
		LoadedAt: time.Unix(1700000000, 0).UTC(),
	}
	s.Position.CollateralRaw.SetUint64(100000000)
	s.Position.DebtRaw.SetUint64(30000000000)
	s.Prices.BtcUsdE8s.SetUint64(6000000000000)
	s.Rates = risk.NewRates(s.Config)
	return s
}

// readEvents reads SSE frames until n data lines were seen.
func readEvents(t *testing.T, url string, header http.Header, n int) []string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") || strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
		}
		if countData(lines) == n {
			return lines
		}
	}
	t.Fatalf("stream ended after %d events", countData(lines))
	return nil
}

func countData(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "data: ") {
			n++
		}
	}
	return n
}

func TestConfirmationStream_ReplaysThenPolls(t *testing.T) {
	store := &memConfirmations{}
	store.add(domain.ConfirmationState{Account: "a", Address: "bc1q", Confirmations: 1, RequiredConfirmations: 6})

	s := NewServer(zap.NewNop(), "", store, nil, nil)
	s.pollInterval = 10 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		store.add(domain.ConfirmationState{Account: "a", Address: "bc1q", Confirmations: 6, RequiredConfirmations: 6, Credited: true})
	}()

	lines := readEvents(t, srv.URL+"/confirmations/stream", nil, 2)
	require.Len(t, lines, 4)
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "id: 2", lines[2])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[3], "data: ")), &second))
	assert.Equal(t, true, second["credited"])
	assert.Equal(t, float64(6), second["confirmations"])
	assert.Equal(t, float64(6), second["required"])
}

func TestFlowStream_ResumesFromLastEventID(t *testing.T) {
	flows := &memFlows{entries: []flowjournal.Entry{
		{Index: 1, ID: "f1", Action: "supply", Phase: "approving"},
		{Index: 2, ID: "f1", Action: "supply", Phase: "done"},
		{Index: 3, ID: "f2", Action: "send", Phase: "failed", Error: "invalid account: bad checksum"},
	}}

	srv := httptest.NewServer(NewServer(zap.NewNop(), "", nil, flows, nil).Handler())
	defer srv.Close()

	lines := readEvents(t, srv.URL+"/flows/stream", http.Header{"Last-Event-Id": {"2"}}, 1)
	require.Len(t, lines, 2)
	assert.Equal(t, "id: 3", lines[0])
	assert.Contains(t, lines[1], `"id":"f2"`)
	assert.Contains(t, lines[1], `"phase":"failed"`)

	lines = readEvents(t, srv.URL+"/flows/stream?after=1", nil, 2)
	assert.Equal(t, "id: 2", lines[0])
}

func TestStreams_Unavailable(t *testing.T) {
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", nil, nil, nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/confirmations/stream", "/flows/stream", "/risk"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestRisk(t *testing.T) {
	t.Run("loads on first request", func(t *testing.T) {
		src := &fakeRisk{next: testSnapshot()}
		srv := httptest.NewServer(NewServer(zap.NewNop(), "", nil, nil, src).Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/risk")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Account string         `json:"account"`
			BtcUsd  string         `json:"btc_usd"`
			Summary map[string]any `json:"summary"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "60000.00", body.BtcUsd)
		assert.Equal(t, "healthy", body.Summary["status"])
		assert.Equal(t, 1, src.refreshCount())

		resp2, err := http.Get(srv.URL + "/risk")
		require.NoError(t, err)
		resp2.Body.Close()
		assert.Equal(t, 1, src.refreshCount())
	})

	t.Run("refresh failure is a bad gateway", func(t *testing.T) {
		src := &fakeRisk{err: &domain.TransportError{Op: "protocol.get_prices", Err: errors.New("timeout")}}
		srv := httptest.NewServer(NewServer(zap.NewNop(), "", nil, nil, src).Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/risk?refresh=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["error"], "please check your connection")
	})
}

func TestMetricsAndHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer(zap.NewNop(), "", nil, nil, nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
