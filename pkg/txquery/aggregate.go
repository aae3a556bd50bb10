package txquery

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"spendwise/models"
)

const (
	// DefaultTopCategories caps the category summary. Ten is a display
	// limit, not a correctness bound; callers may override it.
	DefaultTopCategories = 10
	// DefaultRecentLimit is the number of most recent transactions shown
	// on the dashboard.
	DefaultRecentLimit = 5
)

// CategorySummary is the aggregate for one distinct category.
type CategorySummary struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int64   `json:"count"`
}

// DashboardStats is the combined payload of the three dashboard reads.
type DashboardStats struct {
	TotalExpense       float64              `json:"totalExpense"`
	CategorySummary    []CategorySummary    `json:"categorySummary"`
	RecentTransactions []models.Transaction `json:"recentTransactions"`
}

// TotalExpense sums the amount of every transaction the user owns.
// Returns 0 when the user has none.
func TotalExpense(db *gorm.DB, userID uint) (float64, error) {
	var total float64
	err := db.Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// TopCategories returns per-category totals and counts ordered by
// descending total, truncated to limit entries.
func TopCategories(db *gorm.DB, userID uint, limit int) ([]CategorySummary, error) {
	if limit <= 0 {
		limit = DefaultTopCategories
	}
	out := []CategorySummary{}
	err := db.Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Select("category, SUM(amount) AS total, COUNT(*) AS count").
		Group("category").
		Order("total DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// RecentTransactions returns the user's most recently dated transactions.
// Ties fall back to the store's natural ordering.
func RecentTransactions(db *gorm.DB, userID uint, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	out := []models.Transaction{}
	err := db.Where("user_id = ?", userID).
		Order("date DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DistinctCategories lists every category value the user has used,
// sorted ascending. Intended for filter/autocomplete UI.
func DistinctCategories(db *gorm.DB, userID uint) ([]string, error) {
	out := []string{}
	err := db.Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Distinct("category").
		Order("category ASC").
		Pluck("category", &out).Error
	return out, err
}

// Dashboard runs the three dashboard reads concurrently and joins them.
// The reads are independent; each reflects the state at its own query
// time and no cross-query atomicity is promised.
func Dashboard(ctx context.Context, db *gorm.DB, userID uint, topCategories, recentLimit int) (DashboardStats, error) {
	var stats DashboardStats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, err := TotalExpense(db.WithContext(ctx), userID)
		stats.TotalExpense = total
		return err
	})
	g.Go(func() error {
		cats, err := TopCategories(db.WithContext(ctx), userID, topCategories)
		stats.CategorySummary = cats
		return err
	})
	g.Go(func() error {
		recent, err := RecentTransactions(db.WithContext(ctx), userID, recentLimit)
		stats.RecentTransactions = recent
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, err
	}
	return stats, nil
}
