package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
)

func newTestSession(t *testing.T, server *httptest.Server, tokens Tokens) (*Session, *MemoryTokenStore) {
	t.Helper()
	store := NewMemoryTokenStore()
	if err := store.Save(tokens); err != nil {
		t.Fatalf("seed token store: %v", err)
	}
	session, err := NewSession(server.URL, server.Client(), store)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session, store
}

func writeAuthResponse(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         model.Identity{UserID: "u1", Role: model.RoleStudent},
	})
}

func TestDoRefreshesOnceAndReplays(t *testing.T) {
	var refreshCalls, dataCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeAuthResponse(w, "access-2", "refresh-2")
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dataCalls, 1)
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, store := newTestSession(t, server, Tokens{Access: "access-1", Refresh: "refresh-1"})

	var out map[string]string
	if err := session.Do(context.Background(), http.MethodGet, "/data", nil, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out["ok"] != "yes" {
		t.Fatalf("unexpected body: %v", out)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if n := atomic.LoadInt32(&dataCalls); n != 2 {
		t.Fatalf("data calls = %d, want 2", n)
	}

	persisted, _ := store.Load()
	if persisted.Access != "access-2" || persisted.Refresh != "refresh-2" {
		t.Fatalf("rotated tokens not persisted: %+v", persisted)
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	var refreshCalls int32
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		<-release
		writeAuthResponse(w, "access-2", "refresh-2")
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, _ := newTestSession(t, server, Tokens{Access: "access-1", Refresh: "refresh-1"})

	const workers = 8
	errs := make([]error, workers)
	var started, done sync.WaitGroup
	started.Add(workers)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			errs[i] = session.Do(context.Background(), http.MethodGet, "/data", nil, nil)
		}(i)
	}
	started.Wait()
	close(release)
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
}

func TestSecondAuthFailureExpiresSession(t *testing.T) {
	var expiries int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeAuthResponse(w, "access-2", "refresh-2")
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		// Reject every token, including the freshly rotated one.
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, store := newTestSession(t, server, Tokens{Access: "access-1", Refresh: "refresh-1"})
	session.OnExpire(func(error) { atomic.AddInt32(&expiries, 1) })

	err := session.Do(context.Background(), http.MethodGet, "/data", nil, nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if session.SignedIn() {
		t.Fatal("session still signed in after teardown")
	}
	if persisted, _ := store.Load(); !persisted.empty() {
		t.Fatalf("tokens not cleared from store: %+v", persisted)
	}

	// The dead session stays dead: later calls fail without hitting the
	// network and the expiry callback does not fire again.
	if err := session.Do(context.Background(), http.MethodGet, "/data", nil, nil); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err after expiry = %v, want ErrSessionExpired", err)
	}
	if n := atomic.LoadInt32(&expiries); n != 1 {
		t.Fatalf("expiry callback fired %d times, want 1", n)
	}
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_refresh_token"})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, _ := newTestSession(t, server, Tokens{Access: "stale", Refresh: "revoked"})

	err := session.Do(context.Background(), http.MethodGet, "/data", nil, nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestRefreshOnlyTokensRecover(t *testing.T) {
	var refreshCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		writeAuthResponse(w, "access-2", "refresh-2")
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// The store survived with only a refresh token, as after a crash between
	// rotation and persisting the new access token.
	session, store := newTestSession(t, server, Tokens{Refresh: "refresh-1"})

	if err := session.Do(context.Background(), http.MethodGet, "/data", nil, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if n := atomic.LoadInt32(&refreshCalls); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if persisted, _ := store.Load(); persisted.Access != "access-2" {
		t.Fatalf("recovered tokens not persisted: %+v", persisted)
	}
}

func TestLoginRevivesExpiredSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeAuthResponse(w, "access-new", "refresh-new")
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, _ := newTestSession(t, server, Tokens{Access: "old", Refresh: "old"})
	session.teardown(errors.New("test expiry"))

	if _, err := session.Login(context.Background(), "student@example.edu", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := session.Do(context.Background(), http.MethodGet, "/data", nil, nil); err != nil {
		t.Fatalf("Do after re-login: %v", err)
	}
}

func TestDoTranslatesAPIErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
	})
	mux.HandleFunc("/conflict", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_transition"})
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not_found"})
	})
	mux.HandleFunc("/invalid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]map[string][]string{
			"errors": {"title": {"required"}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, _ := newTestSession(t, server, Tokens{Access: "tok", Refresh: "ref"})
	ctx := context.Background()

	if err := session.Do(ctx, http.MethodGet, "/forbidden", nil, nil); !errors.Is(err, lifecycle.ErrForbidden) {
		t.Fatalf("forbidden: %v", err)
	}
	if err := session.Do(ctx, http.MethodGet, "/conflict", nil, nil); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("conflict: %v", err)
	}
	if err := session.Do(ctx, http.MethodGet, "/missing", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}

	err := session.Do(ctx, http.MethodGet, "/invalid", nil, nil)
	var verr *lifecycle.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid: %v", err)
	}
	if got := verr.Fields["title"]; len(got) != 1 || got[0] != "required" {
		t.Fatalf("validation fields = %v", verr.Fields)
	}
}

func TestDoWrapsTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	session, _ := newTestSession(t, server, Tokens{Access: "tok", Refresh: "ref"})
	server.Close()

	err := session.Do(context.Background(), http.MethodGet, "/data", nil, nil)
	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewFileTokenStore(path)

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if !loaded.empty() {
		t.Fatalf("missing file returned tokens: %+v", loaded)
	}

	want := Tokens{Access: "a", Refresh: "r"}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if loaded, err = store.Load(); err != nil || loaded != want {
		t.Fatalf("load = %+v, %v", loaded, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file mode = %o, want 600", perm)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if loaded, _ = store.Load(); !loaded.empty() {
		t.Fatalf("tokens survived clear: %+v", loaded)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
