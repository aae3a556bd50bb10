package main

import (
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"spendwise/models"
	"spendwise/pkg/receipt"
	"spendwise/pkg/txquery"
)

// invalidateAggregates marks a user's cached dashboard reads stale.
// Every create/update/delete must go through here.
func invalidateAggregates(userID uint) {
	dashCache.Invalidate(userID)
	catCache.Invalidate(userID)
}

// parseID converts the :id path parameter; a malformed id is a 400, not a 404.
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Invalid ID format")
		return 0, false
	}
	return uint(id), true
}

// findOwned resolves a transaction by id AND owner. A record owned by
// someone else reports the same not-found as a missing one.
func findOwned(userID, id uint) (models.Transaction, error) {
	var tx models.Transaction
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&tx).Error
	return tx, err
}

func parseTxDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func listTransactionsHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	f := txquery.ParseFilters(c.Request.URL.Query())
	txs, pagination, err := txquery.List(db, user.ID, f)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "pagination": pagination})
}

func getTransactionHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	tx, err := findOwned(user.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Transaction not found")
		} else {
			respondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, tx)
}

func createTransactionHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	var req struct {
		Title    string   `json:"title"`
		Amount   *float64 `json:"amount"`
		Category string   `json:"category"`
		Date     string   `json:"date"`
		Notes    string   `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.TrimSpace(req.Category)
	if req.Title == "" || req.Amount == nil || req.Category == "" {
		respondError(c, http.StatusBadRequest, "Title, amount and category are required")
		return
	}
	if *req.Amount < 0 {
		respondError(c, http.StatusBadRequest, "Amount must not be negative")
		return
	}
	date := time.Now()
	if req.Date != "" {
		d, ok := parseTxDate(req.Date)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid date format")
			return
		}
		date = d
	}
	tx := models.Transaction{
		UserID:   user.ID,
		Title:    req.Title,
		Amount:   *req.Amount,
		Category: req.Category,
		Date:     date,
		Notes:    strings.TrimSpace(req.Notes),
	}
	if err := db.Create(&tx).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "create failed")
		return
	}
	invalidateAggregates(user.ID)
	c.JSON(http.StatusCreated, tx)
}

// updateTransactionHandler applies only the fields present in the request
// (partial update). An update either fully applies or fully fails.
func updateTransactionHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	tx, err := findOwned(user.ID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Transaction not found")
		} else {
			respondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	var req struct {
		Title    *string  `json:"title"`
		Amount   *float64 `json:"amount"`
		Category *string  `json:"category"`
		Date     *string  `json:"date"`
		Notes    *string  `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			respondError(c, http.StatusBadRequest, "Title is required")
			return
		}
		tx.Title = t
	}
	if req.Amount != nil {
		if *req.Amount < 0 {
			respondError(c, http.StatusBadRequest, "Amount must not be negative")
			return
		}
		tx.Amount = *req.Amount
	}
	if req.Category != nil {
		cat := strings.TrimSpace(*req.Category)
		if cat == "" {
			respondError(c, http.StatusBadRequest, "Category is required")
			return
		}
		tx.Category = cat
	}
	if req.Date != nil {
		d, ok := parseTxDate(*req.Date)
		if !ok {
			respondError(c, http.StatusBadRequest, "Invalid date format")
			return
		}
		tx.Date = d
	}
	if req.Notes != nil {
		tx.Notes = strings.TrimSpace(*req.Notes)
	}
	if err := db.Save(&tx).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "update failed")
		return
	}
	invalidateAggregates(user.ID)
	c.JSON(http.StatusOK, tx)
}

func deleteTransactionHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	res := db.Where("id = ? AND user_id = ?", id, user.ID).Delete(&models.Transaction{})
	if res.Error != nil {
		respondError(c, http.StatusInternalServerError, "delete failed")
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "Transaction not found")
		return
	}
	invalidateAggregates(user.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Transaction deleted"})
}

func dashboardHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	if stats, ok := dashCache.Get(user.ID); ok {
		c.JSON(http.StatusOK, stats)
		return
	}
	gen := dashCache.Generation(user.ID)
	stats, err := txquery.Dashboard(c.Request.Context(), db, user.ID, topCategories, recentLimit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	dashCache.Set(user.ID, gen, stats)
	c.JSON(http.StatusOK, stats)
}

func categoriesHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	if cats, ok := catCache.Get(user.ID); ok {
		c.JSON(http.StatusOK, cats)
		return
	}
	gen := catCache.Generation(user.ID)
	cats, err := txquery.DistinctCategories(db, user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	catCache.Set(user.ID, gen, cats)
	c.JSON(http.StatusOK, cats)
}

// saveTempUpload copies the upload into a uniquely named temp file so
// concurrent uploads with the same client filename cannot collide. The
// caller removes the file.
func saveTempUpload(c *gin.Context, file *multipart.FileHeader) (string, error) {
	f, err := os.CreateTemp("", "receipt-upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		return "", err
	}
	path := f.Name()
	_ = f.Close()
	if err := c.SaveUploadedFile(file, path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// scanReceiptHandler OCRs an uploaded receipt image and suggests an
// amount for the transaction form. Nothing is persisted.
func scanReceiptHandler(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "file missing")
		return
	}
	if file.Size > 5*1024*1024 {
		respondError(c, http.StatusBadRequest, "file too large (max 5MB)")
		return
	}
	tmp, err := saveTempUpload(c, file)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "save failed")
		return
	}
	defer os.Remove(tmp)

	amt, raw, err := receipt.ScanAmount(tmp)
	if err != nil {
		if errors.Is(err, receipt.ErrNoAmount) {
			respondError(c, http.StatusBadRequest, "no amount detected in receipt")
			return
		}
		logger.WithError(err).Warn("receipt scan failed")
		respondError(c, http.StatusInternalServerError, "receipt scan failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestedAmount": amt, "raw": raw})
}
