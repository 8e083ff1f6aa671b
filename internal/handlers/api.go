// Package handlers implements the dashboard API on top of a ledger
// session. The session is single-writer state, so every handler takes the
// handler mutex: the read-merge-write sequence on the ledger must not
// interleave.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/middleware"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/session"
)

// APIHandler handles API requests.
type APIHandler struct {
	mu      sync.Mutex
	session *session.Session
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(sess *session.Session) *APIHandler {
	return &APIHandler{session: sess}
}

// HealthCheck handles GET /health.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// GetTransactions handles GET /api/transactions. An optional month query
// parameter (YYYY-MM) restricts the result.
func (h *APIHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	transactions := h.session.Ledger().Transactions()
	h.mu.Unlock()

	if month := r.URL.Query().Get("month"); month != "" {
		filtered := transactions[:0]
		for _, txn := range transactions {
			if txn.Month == month {
				filtered = append(filtered, txn)
			}
		}
		transactions = filtered
	}

	writeJSON(w, http.StatusOK, transactions)
}

// GetStats handles GET /api/stats. The optional period query parameter is
// a YYYY-MM month; absent means all time.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	period := r.URL.Query().Get("period")

	h.mu.Lock()
	stats := h.session.Stats(period)
	alerts := h.session.Alerts(period)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period": period,
		"stats":  stats,
		"alerts": alerts,
	})
}

// GetMonths handles GET /api/months.
func (h *APIHandler) GetMonths(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	months := h.session.Ledger().Months()
	comparison := h.session.MonthlyComparison()
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"months":     months,
		"comparison": comparison,
	})
}

// GetRules handles GET /api/rules.
func (h *APIHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	userRules := h.session.UserRules()
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, userRules)
}

// importResponse is the body returned by a completed import.
type importResponse struct {
	ImportID          string   `json:"importId"`
	File              string   `json:"file"`
	Parsed            int      `json:"parsed"`
	Accepted          int      `json:"accepted"`
	RejectedDuplicate int      `json:"rejectedDuplicate"`
	Dropped           int      `json:"dropped"`
	DroppedRows       []string `json:"droppedRows,omitempty"`
	DateFailures      int      `json:"dateFailures"`
	Internal          int      `json:"internal"`
	Uncategorized     int      `json:"uncategorized"`
	Warning           string   `json:"warning,omitempty"`
}

// Import handles POST /api/import. The request is a multipart form with a
// single "file" field holding a bank CSV export. Imports run synchronously;
// duplicates against the stored ledger are rejected silently and counted.
func (h *APIHandler) Import(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// 20MB is far above any real export.
	if err := r.ParseMultipartForm(20 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	importID := uuid.New().String()

	h.mu.Lock()
	summary, err := h.session.Import(file)
	h.mu.Unlock()

	if err != nil && summary == nil {
		if session.IsImportError(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.Printf("ERROR: Import %s failed: %v", importID, err)
		http.Error(w, "Import failed", http.StatusInternalServerError)
		return
	}

	resp := importResponse{
		ImportID:          importID,
		File:              header.Filename,
		Parsed:            summary.Parsed,
		Accepted:          summary.Accepted,
		RejectedDuplicate: summary.RejectedDuplicate,
		Dropped:           len(summary.Dropped),
		DateFailures:      summary.DateFailures,
		Internal:          summary.Internal,
		Uncategorized:     summary.Uncategorized,
	}
	for _, rowErr := range summary.Dropped {
		resp.DroppedRows = append(resp.DroppedRows, rowErr.String())
	}
	if err != nil {
		// Merge succeeded but the write-back did not. The in-memory
		// ledger already reflects the import.
		log.Printf("ERROR: Import %s not persisted: %v", importID, err)
		resp.Warning = "import applied but not persisted"
	}

	writeJSON(w, http.StatusCreated, resp)
}

// addRuleRequest is the body of POST /api/rules.
type addRuleRequest struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
}

// AddRule handles POST /api/rules. Adding a rule recategorizes the whole
// ledger before the response is written.
func (h *APIHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	err := h.session.AddRule(req.Keyword, req.Category)
	userRules := h.session.UserRules()
	h.mu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, userRules)
}

// RemoveRule handles DELETE /api/rules/{index}.
func (h *APIHandler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "Invalid rule index", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	err = h.session.RemoveRule(index)
	userRules := h.session.UserRules()
	h.mu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, userRules)
}
