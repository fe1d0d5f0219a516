package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/remote"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func primed(t *testing.T, c *cache.Cache, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if _, err := c.Read(context.Background(), key, func(ctx context.Context) (any, error) {
			return "cached", nil
		}); err != nil {
			t.Fatalf("prime %s: %v", key, err)
		}
	}
}

func TestHandleEventInvalidatesFamilies(t *testing.T) {
	tests := []struct {
		table string
		stale []string
		fresh []string
	}{
		{
			table: remote.TableTasks,
			stale: []string{"tasks/hh-1/active", "points/hh-1/today"},
			fresh: []string{"completions/hh-1/history/today"},
		},
		{
			table: remote.TableCompletions,
			stale: []string{"completions/hh-1/history/today", "points/hh-1/week"},
			fresh: []string{"tasks/hh-1/active"},
		},
		{
			table: remote.TablePartners,
			stale: []string{"partners/hh-1", "points/hh-1/today"},
			fresh: []string{"tasks/hh-1/active"},
		},
		{
			table: remote.TableFavorites,
			stale: []string{"favorites/hh-1/partner-1"},
			fresh: []string{"points/hh-1/today"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			c := cache.New()
			primed(t, c, append(append([]string{}, tt.stale...), tt.fresh...)...)

			b := NewBridge(Config{}, c, discardLogger())
			b.handleEvent("hh-1", ChangeEvent{Table: tt.table, Action: "INSERT"})

			for _, key := range tt.stale {
				if !c.Peek(key).IsStale {
					t.Errorf("%s should be stale after a %s event", key, tt.table)
				}
			}
			for _, key := range tt.fresh {
				if c.Peek(key).IsStale {
					t.Errorf("%s should be untouched by a %s event", key, tt.table)
				}
			}
		})
	}
}

func TestHandleEventIgnoresUnknownTable(t *testing.T) {
	c := cache.New()
	primed(t, c, "tasks/hh-1/active")

	b := NewBridge(Config{}, c, discardLogger())
	b.handleEvent("hh-1", ChangeEvent{Table: "audit_log", Action: "INSERT"})

	if c.Peek("tasks/hh-1/active").IsStale {
		t.Error("unknown tables must not invalidate anything")
	}
}

// feedServer accepts websocket subscribers and pushes change events to them.
type feedServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*ws.Conn
	query []string
	auths []string
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	f := &feedServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = append(f.query, r.URL.RawQuery)
		f.auths = append(f.auths, r.Header.Get("Authorization"))
		f.mu.Unlock()

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		// Hold the connection open until the client goes away.
		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *feedServer) push(t *testing.T, ev ChangeEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		var conn *ws.Conn
		if len(f.conns) > 0 {
			conn = f.conns[len(f.conns)-1]
		}
		f.mu.Unlock()
		if conn != nil {
			if err := conn.Write(context.Background(), ws.MessageText, data); err != nil {
				t.Fatalf("push event: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no subscriber connected")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubscribeInvalidatesOnPushedEvent(t *testing.T) {
	feed := newFeedServer(t)
	c := cache.New()
	primed(t, c, "tasks/hh-1/active")

	b := NewBridge(Config{URL: feed.wsURL(), Token: "secret"}, c, discardLogger())
	b.Subscribe(context.Background(), "hh-1")
	defer b.Unsubscribe()

	waitFor(t, "subscription", func() bool { return b.State() == StateSubscribed })

	feed.mu.Lock()
	query, auth := feed.query[0], feed.auths[0]
	feed.mu.Unlock()
	if query != "household_id=hh-1" {
		t.Errorf("feed query = %q, want household scope", query)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}

	feed.push(t, ChangeEvent{Table: remote.TableTasks, Action: "UPDATE"})

	waitFor(t, "invalidation", func() bool { return c.Peek("tasks/hh-1/active").IsStale })
}

func TestResubscribeTearsDownPrevious(t *testing.T) {
	feed := newFeedServer(t)
	c := cache.New()

	b := NewBridge(Config{URL: feed.wsURL()}, c, discardLogger())
	b.Subscribe(context.Background(), "hh-1")
	waitFor(t, "first subscription", func() bool { return b.State() == StateSubscribed })

	b.Subscribe(context.Background(), "hh-2")
	defer b.Unsubscribe()
	waitFor(t, "second subscription", func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return len(feed.query) >= 2 && feed.query[len(feed.query)-1] == "household_id=hh-2"
	})
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBridge(Config{URL: "ws://127.0.0.1:1/feed"}, cache.New(), discardLogger())

	b.Unsubscribe()
	if b.State() != StateUnsubscribed {
		t.Errorf("state = %s, want unsubscribed", b.State())
	}

	b.Subscribe(context.Background(), "hh-1")
	b.Unsubscribe()
	b.Unsubscribe()
	if b.State() != StateUnsubscribed {
		t.Errorf("state = %s, want unsubscribed after teardown", b.State())
	}
}
