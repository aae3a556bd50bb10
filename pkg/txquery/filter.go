package txquery

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"spendwise/models"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 50
)

// sortColumns whitelists the fields a caller may sort by. Passing the raw
// sortBy parameter into the ORDER BY clause would be an injection vector.
var sortColumns = map[string]string{
	"date":       "date",
	"amount":     "amount",
	"title":      "title",
	"category":   "category",
	"createdAt":  "created_at",
	"created_at": "created_at",
}

// Filters is the parsed form of the optional list-query parameters.
// Nil pointer fields mean "not supplied"; the owner predicate is added
// separately in scope and cannot be disabled.
type Filters struct {
	Page      int
	Limit     int
	Search    string
	Category  string
	DateFrom  *time.Time
	DateTo    *time.Time
	AmountMin *float64
	AmountMax *float64
	SortBy    string
	SortOrder string
}

// Pagination describes the page of results returned by List.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// ParseFilters builds Filters from request query values. Invalid or
// non-numeric values fall back to their defaults instead of erroring;
// limit is clamped to [1, MaxLimit].
func ParseFilters(q url.Values) Filters {
	f := Filters{
		Page:      DefaultPage,
		Limit:     DefaultLimit,
		Search:    strings.TrimSpace(q.Get("search")),
		Category:  strings.TrimSpace(q.Get("category")),
		SortBy:    "date",
		SortOrder: "desc",
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n >= 1 {
		f.Page = n
	}
	// limit=0 counts as unsupplied and keeps the default.
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n != 0 {
		switch {
		case n < 1:
			f.Limit = 1
		case n > MaxLimit:
			f.Limit = MaxLimit
		default:
			f.Limit = n
		}
	}
	if t, ok := parseDate(q.Get("dateFrom")); ok {
		f.DateFrom = &t
	}
	if t, ok := parseDate(q.Get("dateTo")); ok {
		f.DateTo = &t
	}
	if v, err := strconv.ParseFloat(q.Get("amountMin"), 64); err == nil {
		f.AmountMin = &v
	}
	if v, err := strconv.ParseFloat(q.Get("amountMax"), 64); err == nil {
		f.AmountMax = &v
	}
	if _, ok := sortColumns[q.Get("sortBy")]; ok {
		f.SortBy = q.Get("sortBy")
	}
	if q.Get("sortOrder") == "asc" {
		f.SortOrder = "asc"
	}
	return f
}

// parseDate accepts a plain calendar date or a full RFC3339 timestamp.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// likePattern escapes LIKE wildcards in user input so search stays a
// plain substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// scope applies the owner predicate plus every supplied filter, ANDed.
// The user restriction always comes first and is not optional.
func (f Filters) scope(db *gorm.DB, userID uint) *gorm.DB {
	q := db.Model(&models.Transaction{}).Where("user_id = ?", userID)
	if f.Search != "" {
		pat := likePattern(f.Search)
		q = q.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(notes) LIKE ? ESCAPE '\')`, pat, pat)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.DateFrom != nil {
		q = q.Where("date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("date <= ?", *f.DateTo)
	}
	if f.AmountMin != nil {
		q = q.Where("amount >= ?", *f.AmountMin)
	}
	if f.AmountMax != nil {
		q = q.Where("amount <= ?", *f.AmountMax)
	}
	return q
}

func (f Filters) orderClause() string {
	col := sortColumns[f.SortBy]
	if col == "" {
		col = "date"
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	return col + " " + dir
}

// List returns one page of the user's transactions matching the filters,
// along with pagination metadata. An empty result is not an error.
func List(db *gorm.DB, userID uint, f Filters) ([]models.Transaction, Pagination, error) {
	var total int64
	if err := f.scope(db, userID).Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	txs := []models.Transaction{}
	err := f.scope(db, userID).
		Order(f.orderClause()).
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&txs).Error
	if err != nil {
		return nil, Pagination{}, err
	}

	totalPages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	p := Pagination{
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    int64(f.Page)*int64(f.Limit) < total,
	}
	return txs, p, nil
}
