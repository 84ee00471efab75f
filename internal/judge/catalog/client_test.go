package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"judged/internal/judge/breaker"
	appErr "judged/pkg/errors"
)

func newTestClient(baseURL string, brk *breaker.Breaker) *Client {
	return NewClient(Config{BaseURL: baseURL, Timeout: time.Second}, brk)
}

func TestGetTestCasesParsesOrderedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/problems/7/test-cases" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":1,"input_url":"fixtures/7/in1","output_url":"fixtures/7/out1","is_sample":true,"time_limit":1000,"memory_limit":262144},
			{"id":2,"input_url":"fixtures/7/in2","output_url":"fixtures/7/out2","is_sample":false,"time_limit":0,"memory_limit":0,"checker_url":"checkers/7.cpp"}
		]`))
	}))
	defer srv.Close()

	cases, err := newTestClient(srv.URL, nil).GetTestCases(context.Background(), 7)
	if err != nil {
		t.Fatalf("get test cases: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("got %d cases, want 2", len(cases))
	}
	if cases[0].ID != 1 || cases[1].ID != 2 {
		t.Errorf("order not preserved: %+v", cases)
	}
	if cases[1].CheckerURL != "checkers/7.cpp" {
		t.Errorf("checker url not parsed: %+v", cases[1])
	}
}

func TestGetTestCasesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).GetTestCases(context.Background(), 404)
	if appErr.GetCode(err) != appErr.ProblemNotFound {
		t.Errorf("got %v, want ProblemNotFound", err)
	}
}

func TestGetProblemLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time_limit":2000,"memory_limit":131072}`))
	}))
	defer srv.Close()

	lim, err := newTestClient(srv.URL, nil).GetProblemLimits(context.Background(), 7)
	if err != nil {
		t.Fatalf("get limits: %v", err)
	}
	if lim.TimeLimitMs != 2000 || lim.MemoryLimitKB != 131072 {
		t.Errorf("limits = %+v", lim)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	brk := breaker.New("catalog-test", breaker.Settings{
		MaxRequests:         5,
		Interval:            30 * time.Second,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 3,
	})
	client := newTestClient(srv.URL, brk)

	for i := 0; i < 3; i++ {
		_, err := client.GetTestCases(context.Background(), 1)
		if appErr.GetCode(err) != appErr.CatalogUnavailable {
			t.Fatalf("call %d: got %v, want CatalogUnavailable", i, err)
		}
	}

	// breaker is open now; the server must not see this call
	before := calls.Load()
	_, err := client.GetTestCases(context.Background(), 1)
	if appErr.GetCode(err) != appErr.CircuitOpen {
		t.Fatalf("got %v, want CircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open breaker must fail fast without a request")
	}
}

func TestCatalogRecoversAfterOutage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id":1,"input_url":"a/b","output_url":"a/c","is_sample":false,"time_limit":1000,"memory_limit":1024}]`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, nil)

	for i := 0; i < 3; i++ {
		if _, err := client.GetTestCases(context.Background(), 1); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}

	cases, err := client.GetTestCases(context.Background(), 1)
	if err != nil {
		t.Fatalf("recovery call failed: %v", err)
	}
	if len(cases) != 1 {
		t.Errorf("got %d cases, want 1", len(cases))
	}
}
