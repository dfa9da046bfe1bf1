package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/hitoshi/habitloop/internal/client"
)

// fakeAPI は受け取ったリクエストを記録し、ルートごとの応答を返すテスト用APIサーバー。
type fakeAPI struct {
	t        *testing.T
	routes   map[string]http.HandlerFunc
	authSeen []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{t: t, routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		if !ok {
			writeError(w, http.StatusNotFound, "HABIT_NOT_FOUND")
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": code})
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Execute(context.Background(), args, &out, "test")
	return out.String(), err
}

func TestLogin_StoresTokenUsedByLaterCommands(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/my"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "h1", "title": "Read", "streak": 4, "completedToday": true}})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "login", "--token", "stored-token")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out, "Token saved") {
		t.Errorf("login output = %q, want it to mention the saved token", out)
	}

	out, err = runCLI(t, "--api-url", srv.URL, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "Read") || !strings.Contains(out, "4d") {
		t.Errorf("list output = %q, want habit title and streak", out)
	}
	if got := f.authSeen[len(f.authSeen)-1]; got != "Bearer stored-token" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer stored-token")
	}
}

func TestTokenFlag_OverridesKeyring(t *testing.T) {
	gokeyring.MockInit()
	if err := saveToken("stored-token"); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/my"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "flag-token", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "No habits yet.") {
		t.Errorf("list output = %q, want empty message", out)
	}
	if f.authSeen[0] != "Bearer flag-token" {
		t.Errorf("Authorization = %q, want %q", f.authSeen[0], "Bearer flag-token")
	}
}

func TestList_WithoutToken_ReportsNotAuthenticated(t *testing.T) {
	gokeyring.MockInit()
	t.Setenv("HABITCTL_TOKEN", "")
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/my"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
			return
		}
		writeJSON(w, []any{})
	}

	_, err := runCLI(t, "--api-url", srv.URL, "list")
	if !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if !strings.Contains(err.Error(), "not authenticated") {
		t.Errorf("err = %v, want login hint", err)
	}
	if len(f.authSeen) != 1 || f.authSeen[0] != "" {
		t.Errorf("Authorization headers = %q, want one request without a token", f.authSeen)
	}
}

// 公開ルートはトークンなしでも利用できる
func TestPublicCommands_WorkWithoutToken(t *testing.T) {
	tests := []struct {
		name  string
		route string
		args  []string
		want  string
	}{
		{"explore", "GET /habits/public", []string{"explore"}, "No public habits found."},
		{"featured", "GET /habits/featured", []string{"explore", "--featured"}, "No public habits found."},
		{"blog", "GET /blog/posts", []string{"blog"}, "No posts yet."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gokeyring.MockInit()
			t.Setenv("HABITCTL_TOKEN", "")
			f, srv := newFakeAPI(t)
			f.routes[tt.route] = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, []any{})
			}

			out, err := runCLI(t, append([]string{"--api-url", srv.URL}, tt.args...)...)
			if err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
			if f.authSeen[0] != "" {
				t.Errorf("Authorization = %q, want none", f.authSeen[0])
			}
		})
	}
}

func TestLogout(t *testing.T) {
	gokeyring.MockInit()

	out, err := runCLI(t, "logout")
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if !strings.Contains(out, "No stored token.") {
		t.Errorf("logout output = %q, want no-token message", out)
	}

	if err := saveToken("t"); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	out, err = runCLI(t, "logout")
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if !strings.Contains(out, "Token removed.") {
		t.Errorf("logout output = %q, want removed message", out)
	}
	if _, err := loadToken(); !errors.Is(err, ErrNoToken) {
		t.Errorf("loadToken after logout err = %v, want ErrNoToken", err)
	}
}

func TestComplete_Success(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["PATCH /habits/h1/complete"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "h1", "title": "Read", "streak": 5, "completedToday": true})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "complete", "h1")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !strings.Contains(out, "5 days") {
		t.Errorf("complete output = %q, want new streak", out)
	}
}

func TestComplete_AlreadyCompletedIsNotAnError(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["PATCH /habits/h1/complete"] = func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "ALREADY_COMPLETED_TODAY")
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "complete", "h1")
	if err != nil {
		t.Fatalf("already completed should exit cleanly, got %v", err)
	}
	if !strings.Contains(out, "Already completed today.") {
		t.Errorf("complete output = %q, want informational message", out)
	}
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   string
		is     error
	}{
		{name: "not found", status: http.StatusNotFound, code: "HABIT_NOT_FOUND", want: "habit not found", is: client.ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, code: "UNAUTHORIZED", want: "not authenticated", is: client.ErrUnauthorized},
		{name: "server error", status: http.StatusServiceUnavailable, code: "INTERNAL_ERROR", want: "temporarily unavailable"},
		{name: "forbidden", status: http.StatusForbidden, code: "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gokeyring.MockInit()
			f, srv := newFakeAPI(t)
			f.routes["PATCH /habits/h1/complete"] = func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.status, tt.code)
			}

			_, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "complete", "h1")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("errors.Is(err, %v) = false", tt.is)
			}
		})
	}
}

func TestExplore_PassesFilters(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/public"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search"); got != "yoga" {
			t.Errorf("search = %q, want %q", got, "yoga")
		}
		if got := r.URL.Query().Get("category"); got != "Health" {
			t.Errorf("category = %q, want %q", got, "Health")
		}
		writeJSON(w, []map[string]any{{"id": "p1", "title": "Morning yoga", "category": "Health"}})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "explore", "--search", "yoga", "--category", "Health")
	if err != nil {
		t.Fatalf("explore failed: %v", err)
	}
	if !strings.Contains(out, "Morning yoga") {
		t.Errorf("explore output = %q, want public habit", out)
	}
}

func TestExplore_Featured(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/featured"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "explore", "--featured")
	if err != nil {
		t.Fatalf("explore --featured failed: %v", err)
	}
	if !strings.Contains(out, "No public habits found.") {
		t.Errorf("explore output = %q, want empty message", out)
	}
}

// 結果を受け取る前に中断しても完了リクエストはサーバーへ届く
func TestComplete_InterruptedStillSendsRequest(t *testing.T) {
	received := make(chan struct{}, 1)
	f, srv := newFakeAPI(t)
	f.routes["PATCH /habits/h1/complete"] = func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		writeJSON(w, map[string]any{"id": "h1", "title": "Read", "streak": 1, "completedToday": true})
	}

	c, err := client.New(srv.URL, client.StaticToken("t"))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	err = (&CompleteCmd{ID: "h1"}).Run(&Context{Ctx: cancelled, Client: c, Out: &out})
	if !errors.Is(err, errCompletionInterrupted) {
		t.Fatalf("err = %v, want errCompletionInterrupted", err)
	}
	select {
	case <-received:
	default:
		t.Error("completion request was not sent")
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing for an interrupted completion", out.String())
	}
}

func TestAdd_SendsHabit(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["POST /habits"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		want := map[string]any{
			"title": "Read", "description": "20 pages", "category": "Learning",
			"reminderTime": "21:00", "public": false,
		}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("%s = %v, want %v", k, body[k], v)
			}
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": "h9", "title": "Read", "category": "Learning"})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t",
		"add", "Read", "-d", "20 pages", "-c", "Learning", "--reminder", "21:00", "--private")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, "Created") || !strings.Contains(out, "h9") {
		t.Errorf("add output = %q, want created habit", out)
	}
}

func TestAdd_RequiresCategory(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)

	if _, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "add", "Read", "-d", "20 pages"); err == nil {
		t.Fatal("add without --category should fail")
	}
	if len(f.authSeen) != 0 {
		t.Errorf("requests = %d, want none", len(f.authSeen))
	}
}

func TestEdit_SendsOnlyGivenFields(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]any
	}{
		{"title", []string{"--title", "Read more"}, map[string]any{"title": "Read more"}},
		{"clear reminder", []string{"--reminder="}, map[string]any{"reminderTime": ""}},
		{"make public", []string{"--public"}, map[string]any{"public": true}},
		{"make private with category", []string{"--private", "-c", "Health"}, map[string]any{"public": false, "category": "Health"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gokeyring.MockInit()
			f, srv := newFakeAPI(t)
			f.routes["PATCH /habits/h1"] = func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode body: %v", err)
				}
				if len(body) != len(tt.want) {
					t.Errorf("body = %v, want %v", body, tt.want)
				}
				for k, v := range tt.want {
					if body[k] != v {
						t.Errorf("%s = %v, want %v", k, body[k], v)
					}
				}
				writeJSON(w, map[string]any{"id": "h1", "title": "Read more"})
			}

			args := append([]string{"--api-url", srv.URL, "--token", "t", "edit", "h1"}, tt.args...)
			out, err := runCLI(t, args...)
			if err != nil {
				t.Fatalf("edit failed: %v", err)
			}
			if !strings.Contains(out, "Updated") {
				t.Errorf("edit output = %q, want updated message", out)
			}
		})
	}
}

func TestEdit_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no fields", []string{"edit", "h1"}},
		{"public and private", []string{"edit", "h1", "--public", "--private"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gokeyring.MockInit()
			f, srv := newFakeAPI(t)

			args := append([]string{"--api-url", srv.URL, "--token", "t"}, tt.args...)
			if _, err := runCLI(t, args...); err == nil {
				t.Fatal("expected error")
			}
			if len(f.authSeen) != 0 {
				t.Errorf("requests = %d, want none", len(f.authSeen))
			}
		})
	}
}

func TestRm(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["DELETE /habits/h1"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "rm", "h1")
	if err != nil {
		t.Fatalf("rm failed: %v", err)
	}
	if !strings.Contains(out, "Removed h1") {
		t.Errorf("rm output = %q, want removed message", out)
	}

	_, err = runCLI(t, "--api-url", srv.URL, "--token", "t", "rm", "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecent(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/recent"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "h2", "title": "Stretch", "streak": 1}})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "recent")
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if !strings.Contains(out, "Stretch") {
		t.Errorf("recent output = %q, want habit title", out)
	}
}

func TestAnalytics(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/analytics/user"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"totalHabits": 3, "totalCompletions": 12, "maxStreak": 7, "currentStreak": 2,
			"categoryCount": map[string]int{"Learning": 2, "Health": 1},
			"windowDays":    3,
			"last30DaysData": []map[string]any{
				{"date": "2026-03-08", "completed": 0},
				{"date": "2026-03-09", "completed": 2},
				{"date": "2026-03-10", "completed": 1},
			},
		})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "analytics")
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	for _, want := range []string{"Habits: 3", "Completions: 12", "2d", "7d", "Health", "Learning", "2/3 active days"} {
		if !strings.Contains(out, want) {
			t.Errorf("analytics output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Health") > strings.Index(out, "Learning") {
		t.Errorf("categories should be sorted by name:\n%s", out)
	}
}

// サーバーの検索はタイトルのみが対象
func TestSearchHelp_DescribesTitleSearch(t *testing.T) {
	parser, err := kong.New(&Root{}, kong.Vars{"version": "test"})
	if err != nil {
		t.Fatalf("kong.New failed: %v", err)
	}
	want := map[string]string{"explore": "Search in habit titles.", "blog": "Search in post titles."}

	for _, node := range parser.Model.Children {
		help, ok := want[node.Name]
		if !ok {
			continue
		}
		delete(want, node.Name)
		var found bool
		for _, flag := range node.Flags {
			if flag.Name == "search" {
				found = true
				if flag.Help != help {
					t.Errorf("%s --search help = %q, want %q", node.Name, flag.Help, help)
				}
			}
		}
		if !found {
			t.Errorf("%s has no --search flag", node.Name)
		}
	}
	if len(want) != 0 {
		t.Errorf("commands not found: %v", want)
	}
}

func TestStats(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /dashboard/stats"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"totalHabits": 2, "currentStreak": 3, "totalCompletions": 9, "successRate": 15,
			"dailyCompletion": []map[string]any{{"day": "Mon", "date": "2026-03-09", "completions": 2}},
			"weeklyProgress":  []map[string]any{{"habitId": "h1", "name": "Read", "progress": 10}},
		})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	for _, want := range []string{"Habits: 2", "Completions: 9", "3d", "15%", "Mon", "Read"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestBlog_PassesLimit(t *testing.T) {
	gokeyring.MockInit()
	f, srv := newFakeAPI(t)
	f.routes["GET /blog/posts"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("limit = %q, want %q", got, "3")
		}
		writeJSON(w, []map[string]any{{
			"id": "b1", "title": "Small wins", "link": "https://blog.example.com/small-wins",
			"publishedAt": "2026-03-01T09:00:00Z",
		}})
	}

	out, err := runCLI(t, "--api-url", srv.URL, "blog", "--limit", "3")
	if err != nil {
		t.Fatalf("blog failed: %v", err)
	}
	for _, want := range []string{"2026-03-01", "Small wins", "https://blog.example.com/small-wins"} {
		if !strings.Contains(out, want) {
			t.Errorf("blog output missing %q:\n%s", want, out)
		}
	}
}

func TestShow_RendersHistoryInHabitTimezone(t *testing.T) {
	f, srv := newFakeAPI(t)
	f.routes["GET /habits/h1"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": "h1", "title": "Read", "category": "Learning", "streak": 2,
			"completedToday": true, "visibility": "private", "timezone": "Asia/Tokyo",
			// 東京時間では3/9と3/10の完了
			"completionHistory": []string{"2026-03-08T23:30:00Z", "2026-03-10T01:00:00Z"},
		})
	}

	c, err := client.New(srv.URL, client.StaticToken("t"))
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	var out bytes.Buffer
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := &Context{Ctx: context.Background(), Client: c, Out: &out, Now: func() time.Time { return now }}

	if err := (&ShowCmd{ID: "h1"}).Run(ctx); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{"Read", "Learning", "2 days", "2/30 days", "Asia/Tokyo"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, out.String())
		}
	}
}

func TestShow_NotFound(t *testing.T) {
	gokeyring.MockInit()
	_, srv := newFakeAPI(t)

	_, err := runCLI(t, "--api-url", srv.URL, "--token", "t", "show", "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecute_InvalidAPIURL(t *testing.T) {
	gokeyring.MockInit()

	if _, err := runCLI(t, "--api-url", "localhost:8080", "list"); err == nil {
		t.Fatal("expected error for invalid api url")
	}
}

func TestLogin_RequiresToken(t *testing.T) {
	gokeyring.MockInit()
	t.Setenv("HABITCTL_TOKEN", "")

	if _, err := runCLI(t, "login"); err == nil {
		t.Fatal("login without --token should fail")
	}
}

func TestSaveToken_Empty(t *testing.T) {
	gokeyring.MockInit()

	if err := saveToken(""); err == nil {
		t.Error("saveToken(\"\") should return an error")
	}
}
