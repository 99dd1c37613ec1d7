package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// fakeNetErr implements net.Error for classification tests.
type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "fake net error" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return false }

// --- construction -----------------------------------------------------------

func TestNew_TrimsTrailingSlash(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8000", "http://localhost:8000"},
		{"http://localhost:8000/", "http://localhost:8000"},
		{"http://localhost:8000///", "http://localhost:8000"},
	}
	for _, tt := range tests {
		if got := New(tt.in, Options{}).BaseURL(); got != tt.want {
			t.Errorf("New(%q): BaseURL = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_DefaultBudgets(t *testing.T) {
	c := New("http://localhost:8000", Options{})

	if c.chat.Timeout != DefaultTimeout {
		t.Errorf("chat timeout = %v, want %v", c.chat.Timeout, DefaultTimeout)
	}
	if c.models.Timeout != DefaultModelsTimeout {
		t.Errorf("models timeout = %v, want %v", c.models.Timeout, DefaultModelsTimeout)
	}
	// The stream client must not carry an overall deadline or it would cut
	// long relays short.
	if c.stream.Timeout != 0 {
		t.Errorf("stream client has overall timeout %v, want none", c.stream.Timeout)
	}
}

func TestNew_CustomBudgets(t *testing.T) {
	c := New("http://localhost:8000", Options{
		Timeout:       5 * time.Second,
		ModelsTimeout: 2 * time.Second,
	})

	if c.chat.Timeout != 5*time.Second {
		t.Errorf("chat timeout = %v, want 5s", c.chat.Timeout)
	}
	if c.models.Timeout != 2*time.Second {
		t.Errorf("models timeout = %v, want 2s", c.models.Timeout)
	}
}

// --- error classification ---------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			"wrapped context deadline",
			fmt.Errorf("doing thing: %w", context.DeadlineExceeded),
			KindTimeout,
		},
		{
			"net error reporting timeout",
			fakeNetErr{timeout: true},
			KindTimeout,
		},
		{
			"url error wrapping a timeout",
			&url.Error{Op: "Post", URL: "http://x", Err: fakeNetErr{timeout: true}},
			KindTimeout,
		},
		{
			"dial op error",
			&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			KindConnectionFailed,
		},
		{
			"url error without timeout",
			&url.Error{Op: "Post", URL: "http://x", Err: errors.New("EOF")},
			KindConnectionFailed,
		},
		{
			"plain error",
			errors.New("boom"),
			KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := classify("complete", tt.err)
			if be.Kind != tt.want {
				t.Errorf("kind = %v, want %v", be.Kind, tt.want)
			}
			if be.Op != "complete" {
				t.Errorf("op = %q, want complete", be.Op)
			}
			if !errors.Is(be, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTimeout, "timeout"},
		{KindConnectionFailed, "connection_failed"},
		{KindOther, "other"},
		{Kind(99), "other"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestError_Format(t *testing.T) {
	err := &Error{Kind: KindTimeout, Op: "complete", Err: context.DeadlineExceeded}
	want := "backend complete: timeout: context deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsTimeout(t *testing.T) {
	timeoutErr := &Error{Kind: KindTimeout, Op: "complete", Err: context.DeadlineExceeded}
	otherErr := &Error{Kind: KindOther, Op: "complete", Err: errors.New("boom")}

	if !IsTimeout(timeoutErr) {
		t.Error("expected true for a timeout-tagged error")
	}
	if !IsTimeout(fmt.Errorf("wrapped: %w", timeoutErr)) {
		t.Error("expected true for a wrapped timeout-tagged error")
	}
	if IsTimeout(otherErr) {
		t.Error("expected false for a non-timeout backend error")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("expected false for a plain error")
	}
	if IsTimeout(nil) {
		t.Error("expected false for nil")
	}
}

// --- buffered calls ---------------------------------------------------------

func TestComplete_BuffersAnyStatus(t *testing.T) {
	var gotMethod, gotPath, gotCT, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"model":"mock"}`))
	}))
	defer upstream.Close()

	c := New(upstream.URL, Options{})
	res, err := c.Complete(context.Background(), []byte(`{"messages":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %s, want /v1/chat/completions", gotPath)
	}
	if gotCT != "application/json" {
		t.Errorf("content type = %q, want application/json", gotCT)
	}
	if gotBody != `{"messages":[]}` {
		t.Errorf("upstream saw body %q", gotBody)
	}
	// Non-2xx is still a response, not an error.
	if res.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want 418", res.StatusCode)
	}
	if string(res.Body) != `{"model":"mock"}` {
		t.Errorf("body = %q", string(res.Body))
	}
}

func TestComplete_Timeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	c := New(upstream.URL, Options{Timeout: 20 * time.Millisecond})
	_, err := c.Complete(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected IsTimeout(err), got %v", err)
	}

	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if be.Op != "complete" {
		t.Errorf("op = %q, want complete", be.Op)
	}
}

func TestComplete_ConnectionRefused(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := upstream.URL
	upstream.Close()

	c := New(dead, Options{})
	_, err := c.Complete(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected a connection error")
	}

	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if be.Kind != KindConnectionFailed {
		t.Errorf("kind = %v, want %v", be.Kind, KindConnectionFailed)
	}
	if IsTimeout(err) {
		t.Error("connection refused should not classify as timeout")
	}
}

// --- streaming calls --------------------------------------------------------

func TestOpenStream_BodyUnconsumed(t *testing.T) {
	const payload = "data: {\"id\":\"a\"}\n\ndata: [DONE]\n\n"
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, payload)
	}))
	defer upstream.Close()

	c := New(upstream.URL, Options{})
	st, err := c.OpenStream(context.Background(), []byte(`{"stream":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Body.Close()

	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %s, want /v1/chat/completions", gotPath)
	}
	if st.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", st.StatusCode)
	}

	body, err := io.ReadAll(st.Body)
	if err != nil {
		t.Fatalf("reading stream body: %v", err)
	}
	if string(body) != payload {
		t.Errorf("stream body = %q, want %q", string(body), payload)
	}
}

func TestOpenStream_ConnectionRefused(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead := upstream.URL
	upstream.Close()

	c := New(dead, Options{})
	_, err := c.OpenStream(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected a connection error")
	}

	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if be.Op != "stream" {
		t.Errorf("op = %q, want stream", be.Op)
	}
	if be.Kind != KindConnectionFailed {
		t.Errorf("kind = %v, want %v", be.Kind, KindConnectionFailed)
	}
}

// --- model listing ----------------------------------------------------------

func TestModels_GetsListing(t *testing.T) {
	const listing = `{"object":"list","data":[{"id":"mock-7b-instruct","object":"model"}]}`
	var gotMethod, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, listing)
	}))
	defer upstream.Close()

	c := New(upstream.URL, Options{})
	res, err := c.Models(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodGet {
		t.Errorf("method = %s, want GET", gotMethod)
	}
	if gotPath != "/v1/models" {
		t.Errorf("path = %s, want /v1/models", gotPath)
	}
	if string(res.Body) != listing {
		t.Errorf("body = %q", string(res.Body))
	}
}

func TestModels_UsesOwnBudget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	// Generous chat budget, tight models budget: the listing must time out.
	c := New(upstream.URL, Options{
		Timeout:       10 * time.Second,
		ModelsTimeout: 20 * time.Millisecond,
	})
	_, err := c.Models(context.Background())
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected IsTimeout(err), got %v", err)
	}

	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if be.Op != "models" {
		t.Errorf("op = %q, want models", be.Op)
	}
}
