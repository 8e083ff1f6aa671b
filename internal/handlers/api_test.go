package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/middleware"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/rules"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/session"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/stats"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/store"
)

const sampleExport = `dateOp;label;category;categoryParent;supplierFound;amount
2025-03-15;CARTE 14/03/25 CARREFOUR PARIS;Supermarchés;Vie quotidienne;Carrefour;-42,50
2025-03-01;VIR SALAIRE ACME;Salaires;Revenus;;2 000,00
`

func testHandler(t *testing.T) *APIHandler {
	t.Helper()
	dir := t.TempDir()
	autoRules, err := rules.LoadEmbeddedAutoRules()
	if err != nil {
		t.Fatal(err)
	}
	sess, err := session.Open(session.Config{
		Store:     store.NewFileStore(filepath.Join(dir, "ledger.csv"), ""),
		RulesPath: filepath.Join(dir, "rules.json"),
		AutoRules: autoRules,
		Budgets:   map[string]float64{"Alimentation": 40},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewAPIHandler(sess)
}

// requestWithAuth builds a request carrying an authenticated user ID,
// bypassing the token middleware.
func requestWithAuth(method, target string, body *bytes.Buffer) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, "user-123")
	return req.WithContext(ctx)
}

func multipartUpload(t *testing.T, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "export.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, writer.FormDataContentType()
}

func importSample(t *testing.T, handler *APIHandler) importResponse {
	t.Helper()
	body, contentType := multipartUpload(t, sampleExport)
	req := requestWithAuth(http.MethodPost, "/api/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Import(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Import status = %d, body %s", w.Code, w.Body.String())
	}
	var resp importResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestImportEndpoint(t *testing.T) {
	handler := testHandler(t)
	resp := importSample(t, handler)

	if resp.Parsed != 2 || resp.Accepted != 2 || resp.RejectedDuplicate != 0 {
		t.Errorf("response = %+v, want 2 parsed and accepted", resp)
	}
	if resp.ImportID == "" {
		t.Error("ImportID is empty")
	}
	if resp.File != "export.csv" {
		t.Errorf("File = %q, want export.csv", resp.File)
	}

	t.Run("re-import rejects duplicates", func(t *testing.T) {
		again := importSample(t, handler)
		if again.Accepted != 0 || again.RejectedDuplicate != 2 {
			t.Errorf("response = %+v, want everything rejected", again)
		}
	})
}

func TestImportEndpoint_Unauthorized(t *testing.T) {
	handler := testHandler(t)
	body, contentType := multipartUpload(t, sampleExport)
	req := httptest.NewRequest(http.MethodPost, "/api/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Import(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestImportEndpoint_MalformedUpload(t *testing.T) {
	handler := testHandler(t)
	body, contentType := multipartUpload(t, "not;a;ledger\nexport;at;all\n")
	req := requestWithAuth(http.MethodPost, "/api/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Import(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestImportEndpoint_NoFile(t *testing.T) {
	handler := testHandler(t)
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.Close()
	req := requestWithAuth(http.MethodPost, "/api/import", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()

	handler.Import(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetTransactions(t *testing.T) {
	handler := testHandler(t)
	importSample(t, handler)

	req := requestWithAuth(http.MethodGet, "/api/transactions", nil)
	w := httptest.NewRecorder()
	handler.GetTransactions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var transactions []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &transactions); err != nil {
		t.Fatal(err)
	}
	if len(transactions) != 2 {
		t.Errorf("got %d transactions, want 2", len(transactions))
	}

	t.Run("month filter", func(t *testing.T) {
		req := requestWithAuth(http.MethodGet, "/api/transactions?month=2024-01", nil)
		w := httptest.NewRecorder()
		handler.GetTransactions(w, req)

		var filtered []map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &filtered); err != nil {
			t.Fatal(err)
		}
		if len(filtered) != 0 {
			t.Errorf("got %d transactions for empty month, want 0", len(filtered))
		}
	})
}

func TestGetStats(t *testing.T) {
	handler := testHandler(t)
	importSample(t, handler)

	req := requestWithAuth(http.MethodGet, "/api/stats?period=2025-03", nil)
	w := httptest.NewRecorder()
	handler.GetStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Period string        `json:"period"`
		Stats  stats.Stats   `json:"stats"`
		Alerts []stats.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Stats.TotalExpenses != 42.50 {
		t.Errorf("TotalExpenses = %v, want 42.50", resp.Stats.TotalExpenses)
	}
	if resp.Stats.TotalIncome != 2000 {
		t.Errorf("TotalIncome = %v, want 2000", resp.Stats.TotalIncome)
	}
	// 42.50 spent of a 40 budget.
	if len(resp.Alerts) != 1 || resp.Alerts[0].Level != stats.AlertDanger {
		t.Errorf("Alerts = %+v, want one danger alert", resp.Alerts)
	}
}

func TestGetMonths(t *testing.T) {
	handler := testHandler(t)
	importSample(t, handler)

	req := requestWithAuth(http.MethodGet, "/api/months", nil)
	w := httptest.NewRecorder()
	handler.GetMonths(w, req)

	var resp struct {
		Months     []string         `json:"months"`
		Comparison []stats.MonthRow `json:"comparison"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Months) != 1 || resp.Months[0] != "2025-03" {
		t.Errorf("Months = %v, want [2025-03]", resp.Months)
	}
	if len(resp.Comparison) != 1 {
		t.Errorf("Comparison = %+v, want one row", resp.Comparison)
	}
}

func TestRuleEndpoints(t *testing.T) {
	handler := testHandler(t)
	importSample(t, handler)

	t.Run("add rule", func(t *testing.T) {
		body := bytes.NewBufferString(`{"keyword":"salaire","category":"Salaire"}`)
		req := requestWithAuth(http.MethodPost, "/api/rules", body)
		w := httptest.NewRecorder()
		handler.AddRule(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		var ruleList []rules.UserRule
		if err := json.Unmarshal(w.Body.Bytes(), &ruleList); err != nil {
			t.Fatal(err)
		}
		if len(ruleList) != 1 || ruleList[0].Keyword != "salaire" {
			t.Errorf("rules = %+v", ruleList)
		}
	})

	t.Run("list rules", func(t *testing.T) {
		req := requestWithAuth(http.MethodGet, "/api/rules", nil)
		w := httptest.NewRecorder()
		handler.GetRules(w, req)

		var ruleList []rules.UserRule
		if err := json.Unmarshal(w.Body.Bytes(), &ruleList); err != nil {
			t.Fatal(err)
		}
		if len(ruleList) != 1 {
			t.Errorf("rules = %+v, want 1", ruleList)
		}
	})

	t.Run("duplicate keyword rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"keyword":"SALAIRE","category":"Autre"}`)
		req := requestWithAuth(http.MethodPost, "/api/rules", body)
		w := httptest.NewRecorder()
		handler.AddRule(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		req := requestWithAuth(http.MethodPost, "/api/rules", bytes.NewBufferString("{broken"))
		w := httptest.NewRecorder()
		handler.AddRule(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("remove rule", func(t *testing.T) {
		req := requestWithAuth(http.MethodDelete, "/api/rules/0", nil)
		req.SetPathValue("index", "0")
		w := httptest.NewRecorder()
		handler.RemoveRule(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		var ruleList []rules.UserRule
		if err := json.Unmarshal(w.Body.Bytes(), &ruleList); err != nil {
			t.Fatal(err)
		}
		if len(ruleList) != 0 {
			t.Errorf("rules = %+v, want empty", ruleList)
		}
	})

	t.Run("remove with bad index", func(t *testing.T) {
		req := requestWithAuth(http.MethodDelete, "/api/rules/zero", nil)
		req.SetPathValue("index", "zero")
		w := httptest.NewRecorder()
		handler.RemoveRule(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	HealthCheck(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("body = %q, want ok status", w.Body.String())
	}
}
