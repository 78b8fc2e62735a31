package performance

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/workforce/internal/config"
	"github.com/nao1215/workforce/internal/model"
	"github.com/nao1215/workforce/pkg/middleware"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はフェイクのソースでパフォーマンス照会サーバーを構築する。
func setupTestServer(t *testing.T, src Source) *Server {
	t.Helper()

	cfg := &config.Config{Port: "0", JWTSecret: testSecret}
	return NewServer(cfg, NewEngine(src, nil), nil)
}

// testToken はテスト用のJWTトークンを生成する。
func testToken(t *testing.T, empID string) string {
	t.Helper()

	token, err := middleware.GenerateJWT(testSecret, middleware.JWTClaims{EmpID: empID})
	if err != nil {
		t.Fatalf("トークンの生成に失敗: %v", err)
	}
	return token
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(s *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをデコードするヘルパー関数。
func parseJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var result T
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

func scenarioSource() *fakeSource {
	emp3 := employee(3)
	emp3.Email = "emp3@co.com"
	return &fakeSource{
		employees:  []model.Employee{employee(1), employee(2), emp3},
		attendance: []model.Attendance{late("Emp001", "2025-07-01")},
		tasks:      []model.Task{completed("Emp002", "Ship report", "2025-07-03")},
		messages:   []model.Message{message("emp3@co.com", "Outstanding Performance", "Great job", "2025-07-04")},
	}
}

// TestServer_Feed はフィードAPIを検証する。
func TestServer_Feed(t *testing.T) {
	t.Parallel()

	t.Run("トークンなしでは401が返ること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, scenarioSource()), "/api/v1/performance/feed", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("フラットなJSONで日付の降順に返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, scenarioSource())
		w := doRequest(s, "/api/v1/performance/feed", testToken(t, "Emp001"))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		feed := parseJSON[[]map[string]any](t, w)
		if len(feed) != 3 {
			t.Fatalf("件数 = %d, want 3", len(feed))
		}
		if feed[0]["type"] != "Recognition" || feed[0]["employeeId"] != "Emp003" {
			t.Errorf("feed[0] = %v", feed[0])
		}
		if feed[1]["type"] != "TaskCompleted" || feed[1]["description"] != "Completed task 'Ship report'" {
			t.Errorf("feed[1] = %v", feed[1])
		}
		if feed[2]["type"] != "Late" || feed[2]["icon"] != "clock" || feed[2]["badgeColor"] != "warning" {
			t.Errorf("feed[2] = %v", feed[2])
		}
	})

	t.Run("空のフィードはnullではなく空配列になること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, &fakeSource{}), "/api/v1/performance/feed", testToken(t, "Emp001"))
		if w.Body.String() != "[]" {
			t.Errorf("body = %s, want []", w.Body.String())
		}
	})

	t.Run("ソースの失敗は500になること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, &fakeSource{err: errors.New("db down")}), "/api/v1/performance/feed", testToken(t, "Emp001"))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		body := parseJSON[map[string]string](t, w)
		if body["error"] != "フィードの取得に失敗しました" {
			t.Errorf("error = %q", body["error"])
		}
	})
}

// TestServer_Rankings はランキングAPIを検証する。
func TestServer_Rankings(t *testing.T) {
	t.Parallel()

	t.Run("上位者ランキングにscoreが含まれること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, scenarioSource()), "/api/v1/performance/top-performers", testToken(t, "admin"))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		top := parseJSON[[]map[string]any](t, w)
		if len(top) != 1 || top[0]["employeeId"] != "Emp002" || top[0]["score"] != float64(1) {
			t.Errorf("top = %v", top)
		}
		if _, ok := top[0]["lastEvent"]; !ok {
			t.Error("lastEventが含まれていない")
		}
	})

	t.Run("要注意ランキングにissuesが含まれること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, scenarioSource()), "/api/v1/performance/needs-attention", testToken(t, "admin"))
		items := parseJSON[[]map[string]any](t, w)
		if len(items) != 1 || items[0]["employeeId"] != "Emp001" || items[0]["issues"] != float64(1) {
			t.Errorf("items = %v", items)
		}
		if _, ok := items[0]["score"]; ok {
			t.Error("要注意ランキングにscoreが含まれている")
		}
	})
}

// TestServer_Employee は従業員単位のAPIを検証する。
func TestServer_Employee(t *testing.T) {
	t.Parallel()

	t.Run("スナップショットが返ること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, scenarioSource()), "/api/v1/performance/employee/Emp001/snapshot", testToken(t, "Emp001"))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		snap := parseJSON[Snapshot](t, w)
		if snap.AttendancePct != 100 || snap.Late != 1 {
			t.Errorf("snap = %+v", snap)
		}
	})

	t.Run("未知の従業員でも200で空の結果が返ること", func(t *testing.T) {
		t.Parallel()

		s := setupTestServer(t, scenarioSource())
		w := doRequest(s, "/api/v1/performance/employee/Emp404/snapshot", testToken(t, "Emp001"))
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Body.String() != `{"attendancePct":0,"tasksCompleted":0,"recognitions":0,"late":0,"absent":0,"recentFeedback":[]}` {
			t.Errorf("body = %s", w.Body.String())
		}

		w = doRequest(s, "/api/v1/performance/employee/Emp404/timeline", testToken(t, "Emp001"))
		if w.Code != http.StatusOK || w.Body.String() != "[]" {
			t.Errorf("code = %d, body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("タイムラインに本人のイベントだけが含まれること", func(t *testing.T) {
		t.Parallel()

		w := doRequest(setupTestServer(t, scenarioSource()), "/api/v1/performance/employee/Emp003/timeline", testToken(t, "Emp003"))
		events := parseJSON[[]EventView](t, w)
		if len(events) != 1 || events[0].Type != EventTypeRecognition || events[0].Description != "Outstanding Performance: Great job" {
			t.Errorf("events = %+v", events)
		}
	})
}

// TestServer_Health はヘルスチェックを検証する。
func TestServer_Health(t *testing.T) {
	t.Parallel()

	w := doRequest(setupTestServer(t, &fakeSource{}), "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	body := parseJSON[map[string]string](t, w)
	if body["service"] != "performance" {
		t.Errorf("service = %q", body["service"])
	}
}
