package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/vitals/internal/session"
)

func startSession(t *testing.T, h http.Handler, user string) session.StartResult {
	t.Helper()
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/session", "", testToken)
	req.Header.Set(UserHeader, user)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /session status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var res session.StartResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decoding start response: %v", err)
	}
	return res
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodGet, "/questions", "", tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _ := setupHandler(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/questions", "", ""))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	h, store := setupHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/session", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET /session before start = %d, want 404", rr.Code)
	}

	start := startSession(t, h, "alice")
	if start.NextQuestion == nil || start.NextQuestion.ID != "1-1" {
		t.Fatalf("nextQuestion = %+v", start.NextQuestion)
	}

	rr = httptest.NewRecorder()
	req := authReq(http.MethodPost, "/session/"+start.Session.ID+"/turn", `{"message":"I'm 35"}`, testToken)
	req.Header.Set(UserHeader, "alice")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("turn status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var turn session.TurnResult
	if err := json.NewDecoder(rr.Body).Decode(&turn); err != nil {
		t.Fatalf("decoding turn: %v", err)
	}
	if turn.Reply != "Thanks! How tall are you?" {
		t.Errorf("reply = %q", turn.Reply)
	}
	if len(turn.ExecutedActions) != 1 || turn.NextQuestion.ID != "1-2" {
		t.Errorf("turn = %+v", turn)
	}

	sec, err := store.GetSection("alice", "basic_attributes")
	if err != nil || sec.Content != "Age: 35" {
		t.Errorf("section = %+v, %v", sec, err)
	}

	// Another user cannot drive alice's session.
	rr = httptest.NewRecorder()
	req = authReq(http.MethodPost, "/session/"+start.Session.ID+"/turn", `{"message":"hi"}`, testToken)
	req.Header.Set(UserHeader, "bob")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign turn status = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodPost, "/session/"+start.Session.ID+"/pause", "", testToken)
	req.Header.Set(UserHeader, "alice")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rr.Code)
	}
	var view session.View
	json.NewDecoder(rr.Body).Decode(&view)
	if view.Status != "paused" {
		t.Errorf("status = %q, want paused", view.Status)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodPost, "/session/"+start.Session.ID+"/turn", `{"message":"hello"}`, testToken)
	req.Header.Set(UserHeader, "alice")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Errorf("turn on paused session = %d, want 409", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodGet, "/session", "", testToken)
	req.Header.Set(UserHeader, "alice")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /session = %d", rr.Code)
	}
	var sum session.Summary
	json.NewDecoder(rr.Body).Decode(&sum)
	if sum.Progress.Answered != 1 {
		t.Errorf("answered = %d, want 1", sum.Progress.Answered)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodDelete, "/session", "", testToken)
	req.Header.Set(UserHeader, "alice")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE /session = %d", rr.Code)
	}
	if _, err := store.LatestSession("alice", ""); err == nil {
		t.Error("session survived DELETE /session")
	}
}

func TestTurn_BadRequests(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	start := startSession(t, h, "local")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty message", `{"message":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodPost, "/session/"+start.Session.ID+"/turn", tt.body, testToken))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
			var body map[string]map[string]string
			json.NewDecoder(rr.Body).Decode(&body)
			if body["error"]["type"] != "invalid_request_error" {
				t.Errorf("error = %+v", body)
			}
		})
	}
}

func TestPendingActionRoutes(t *testing.T) {
	llm := defaultCompleter()
	llm.editor = `{"actions":[{"type":"ADD","sectionId":"basic_attributes","newText":"Age: around 35","reason":"vague","confidence":0.5}]}`
	svc, store := newTestService(t, llm)
	h := NewHandler(Deps{Sessions: svc, DefaultUser: "local"})
	start := startSession(t, h, "local")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/session/"+start.Session.ID+"/turn", `{"message":"35-ish"}`, ""))
	var turn session.TurnResult
	json.NewDecoder(rr.Body).Decode(&turn)
	if len(turn.PendingActions) != 1 {
		t.Fatalf("pending = %+v", turn.PendingActions)
	}
	actionURL := "/session/" + start.Session.ID + "/actions/" + turn.PendingActions[0].ID

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, actionURL+"/confirm", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm = %d; body = %s", rr.Code, rr.Body.String())
	}
	sec, _ := store.GetSection("local", "basic_attributes")
	if sec.Content != "Age: around 35" {
		t.Errorf("section = %q", sec.Content)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, actionURL+"/reject", "", ""))
	if rr.Code != http.StatusConflict {
		t.Errorf("reject after confirm = %d, want 409", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/session/"+start.Session.ID+"/actions/missing/confirm", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Errorf("confirm missing = %d, want 404", rr.Code)
	}
}

func TestProfileRoutes(t *testing.T) {
	h, _ := setupHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/profile/sections/exercise", `{"content":"Runs 5 km twice a week"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT section = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/profile/sections/hobbies", `{"content":"Chess"}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("PUT unknown section = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profile/import", `{"type":"text","content":"## Daily rhythm and sleep\nSleeps 7 hours"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("import = %d; body = %s", rr.Code, rr.Body.String())
	}
	var imp session.ImportResult
	json.NewDecoder(rr.Body).Decode(&imp)
	if len(imp.Updated) != 1 || imp.Updated[0] != "circadian" {
		t.Errorf("import = %+v", imp)
	}

	bad := base64.StdEncoding.EncodeToString([]byte("not a pdf at all, just some text"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/profile/import", `{"type":"pdf","content":"`+bad+`"}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("import invalid pdf = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/profile", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /profile = %d", rr.Code)
	}
	var prof struct {
		Sections []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"sections"`
		Document string `json:"document"`
	}
	json.NewDecoder(rr.Body).Decode(&prof)
	if len(prof.Sections) != 11 {
		t.Errorf("sections = %d, want 11", len(prof.Sections))
	}
	if !strings.Contains(prof.Document, "【8. Exercise and physical activity】\nRuns 5 km twice a week") {
		t.Errorf("document = %q", prof.Document)
	}
}

func TestQuestionsRoute(t *testing.T) {
	h, _ := setupHandler(t, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/questions", "", ""))
	var body struct {
		Questions []struct {
			ID       string `json:"id"`
			Answered bool   `json:"answered"`
		} `json:"questions"`
		Progress session.Progress `json:"progress"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Questions) == 0 || body.Progress.Total != len(body.Questions) {
		t.Errorf("questions = %d total = %d", len(body.Questions), body.Progress.Total)
	}
}
