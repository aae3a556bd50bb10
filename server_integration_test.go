package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendwise/pkg/aggcache"
	"spendwise/pkg/txquery"
)

// performRequest performs a request against the router with an optional
// bearer token.
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger = newLogger()
	jwtSecret = []byte("test-secret")
	dashCache = aggcache.New[txquery.DashboardStats](time.Minute)
	catCache = aggcache.New[[]string](time.Minute)
	topCategories = txquery.DefaultTopCategories
	recentLimit = txquery.DefaultRecentLimit

	var err error
	db, err = openDB("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	require.NoError(t, migrateDB(db))

	r := gin.New()
	setupRoutes(r)
	return r
}

// registerAndLogin creates an account and returns its access token.
func registerAndLogin(t *testing.T, r http.Handler, name, email string) string {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/api/auth/register",
		jsonBody(t, map[string]string{"name": name, "email": email, "password": "secret1"}), "")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func createTx(t *testing.T, r http.Handler, token string, payload map[string]any) map[string]any {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/api/transactions", jsonBody(t, payload), token)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestAuthFlow(t *testing.T) {
	r := setupTestServer(t)

	token := registerAndLogin(t, r, "User One", "u1@example.com")

	// duplicate email is a plain 400
	resp := performRequest(r, http.MethodPost, "/api/auth/register",
		jsonBody(t, map[string]string{"name": "Dup", "email": "u1@example.com", "password": "secret1"}), "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performRequest(r, http.MethodPost, "/api/auth/login",
		jsonBody(t, map[string]string{"email": "u1@example.com", "password": "wrong"}), "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = performRequest(r, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = performRequest(r, http.MethodGet, "/api/transactions", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code, "protected endpoints require a token")
}

func TestTransactionCRUDRoundTrip(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "User One", "u1@example.com")

	created := createTx(t, r, token, map[string]any{
		"title": "Coffee", "amount": 150, "category": "Food", "date": "2024-01-05", "notes": "flat white",
	})
	id := uint(created["_id"].(float64))

	// read back by id: identical fields
	resp := performRequest(r, http.MethodGet, fmt.Sprintf("/api/transactions/%d", id), nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "Coffee", got["title"])
	assert.InDelta(t, 150, got["amount"].(float64), 0.001)
	assert.Equal(t, "Food", got["category"])
	assert.Equal(t, "flat white", got["notes"])
	assert.Contains(t, got["date"].(string), "2024-01-05")

	// partial update leaves unset fields alone
	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/api/transactions/%d", id),
		jsonBody(t, map[string]any{"amount": 175}), token)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.InDelta(t, 175, got["amount"].(float64), 0.001)
	assert.Equal(t, "Coffee", got["title"])
	assert.Equal(t, "flat white", got["notes"])

	// update idempotence: same payload twice, same final state
	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/api/transactions/%d", id),
		jsonBody(t, map[string]any{"amount": 175}), token)
	require.Equal(t, http.StatusOK, resp.Code)
	var again map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &again))
	assert.Equal(t, got["amount"], again["amount"])
	assert.Equal(t, got["title"], again["title"])

	// delete, then the record is gone
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", id), nil, token)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/api/transactions/%d", id), nil, token)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", id), nil, token)
	assert.Equal(t, http.StatusNotFound, resp.Code, "deleting twice reports not found")
}

func TestTransactionValidation(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "User One", "u1@example.com")

	// missing required fields
	resp := performRequest(r, http.MethodPost, "/api/transactions",
		jsonBody(t, map[string]any{"title": "No amount", "category": "Misc"}), token)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// negative amount
	resp = performRequest(r, http.MethodPost, "/api/transactions",
		jsonBody(t, map[string]any{"title": "Bad", "amount": -5, "category": "Misc"}), token)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// malformed id is a 400, not a 404
	resp = performRequest(r, http.MethodGet, "/api/transactions/not-a-number", nil, token)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// omitted date defaults to now
	created := createTx(t, r, token, map[string]any{"title": "Snack", "amount": 3, "category": "Food"})
	dateStr, _ := created["date"].(string)
	parsed, err := time.Parse(time.RFC3339, dateStr)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}

func TestOwnerScopingAcrossUsers(t *testing.T) {
	r := setupTestServer(t)
	alice := registerAndLogin(t, r, "Alice", "alice@example.com")
	mallory := registerAndLogin(t, r, "Mallory", "mallory@example.com")

	created := createTx(t, r, alice, map[string]any{"title": "Rent", "amount": 900, "category": "Housing"})
	id := uint(created["_id"].(float64))

	// another user's record answers 404 on read, update and delete alike
	path := fmt.Sprintf("/api/transactions/%d", id)
	assert.Equal(t, http.StatusNotFound, performRequest(r, http.MethodGet, path, nil, mallory).Code)
	assert.Equal(t, http.StatusNotFound,
		performRequest(r, http.MethodPut, path, jsonBody(t, map[string]any{"amount": 1}), mallory).Code)
	assert.Equal(t, http.StatusNotFound, performRequest(r, http.MethodDelete, path, nil, mallory).Code)

	// and the record is untouched
	resp := performRequest(r, http.MethodGet, path, nil, alice)
	require.Equal(t, http.StatusOK, resp.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.InDelta(t, 900, got["amount"].(float64), 0.001)

	// Mallory's list does not contain Alice's record
	resp = performRequest(r, http.MethodGet, "/api/transactions", nil, mallory)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Transactions []map[string]any `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Empty(t, list.Transactions)
}

func TestListFilteringAndPagination(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "User One", "u1@example.com")

	for i := 1; i <= 15; i++ {
		cat := "Food"
		if i%3 == 0 {
			cat = "Transport"
		}
		createTx(t, r, token, map[string]any{
			"title":    fmt.Sprintf("item %02d", i),
			"amount":   i * 10,
			"category": cat,
			"date":     fmt.Sprintf("2024-01-%02d", i),
		})
	}

	var out struct {
		Transactions []map[string]any   `json:"transactions"`
		Pagination   txquery.Pagination `json:"pagination"`
	}

	resp := performRequest(r, http.MethodGet, "/api/transactions?page=2&limit=10", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Len(t, out.Transactions, 5)
	assert.EqualValues(t, 15, out.Pagination.Total)
	assert.Equal(t, 2, out.Pagination.TotalPages)
	assert.False(t, out.Pagination.HasMore)

	resp = performRequest(r, http.MethodGet, "/api/transactions?category=Transport&limit=50", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.EqualValues(t, 5, out.Pagination.Total)

	resp = performRequest(r, http.MethodGet,
		"/api/transactions?amountMin=20&amountMax=40&sortBy=amount&sortOrder=asc", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.EqualValues(t, 3, out.Pagination.Total)
	assert.InDelta(t, 20, out.Transactions[0]["amount"].(float64), 0.001)

	resp = performRequest(r, http.MethodGet, "/api/transactions?search=ITEM+01", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.EqualValues(t, 1, out.Pagination.Total, "search is case-insensitive")
}

func TestDashboardAndCategories(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "User One", "u1@example.com")

	// empty user first
	resp := performRequest(r, http.MethodGet, "/api/transactions/dashboard", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	var stats txquery.DashboardStats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Zero(t, stats.TotalExpense)
	assert.Empty(t, stats.CategorySummary)
	assert.Empty(t, stats.RecentTransactions)

	// a mutation invalidates the cached dashboard
	createTx(t, r, token, map[string]any{"title": "Coffee", "amount": 150, "category": "Food", "date": "2024-01-05"})
	createTx(t, r, token, map[string]any{"title": "Bus", "amount": 3, "category": "Transport", "date": "2024-01-06"})

	resp = performRequest(r, http.MethodGet, "/api/transactions/dashboard", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.InDelta(t, 153, stats.TotalExpense, 0.001)
	require.Len(t, stats.CategorySummary, 2)
	assert.Equal(t, "Food", stats.CategorySummary[0].Category, "ordered by descending total")
	assert.GreaterOrEqual(t, stats.CategorySummary[0].Total, 150.0)
	assert.Len(t, stats.RecentTransactions, 2)

	resp = performRequest(r, http.MethodGet, "/api/transactions/categories", nil, token)
	require.Equal(t, http.StatusOK, resp.Code)
	var cats []string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cats))
	assert.Equal(t, []string{"Food", "Transport"}, cats)

	// deleting the Transport record drops it from both aggregates
	var list struct {
		Transactions []map[string]any `json:"transactions"`
	}
	resp = performRequest(r, http.MethodGet, "/api/transactions?category=Transport", nil, token)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Transactions, 1)
	busID := uint(list.Transactions[0]["_id"].(float64))
	performRequest(r, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", busID), nil, token)

	resp = performRequest(r, http.MethodGet, "/api/transactions/categories", nil, token)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cats))
	assert.Equal(t, []string{"Food"}, cats)
}

// Two uploads sharing a client filename must land in distinct temp files.
func TestSaveTempUploadUniquePaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	paths := map[string]bool{}
	for i := 0; i < 2; i++ {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		fw, err := mw.CreateFormFile("file", "receipt.jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte("image bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/transactions/receipt", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = req

		fh, err := c.FormFile("file")
		require.NoError(t, err)
		p, err := saveTempUpload(c, fh)
		require.NoError(t, err)
		defer os.Remove(p)

		assert.False(t, paths[p], "second upload reused the first upload's path")
		paths[p] = true
		assert.True(t, strings.HasSuffix(p, ".jpg"))
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := setupTestServer(t)
	resp := performRequest(r, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)
}
