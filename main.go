package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"spendwise/pkg/aggcache"
	"spendwise/pkg/txquery"
)

var (
	jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)
	logger    *logrus.Logger

	// Per-user caches for the derived dashboard reads. Every transaction
	// write invalidates the owner's entries (see transactions.go).
	dashCache *aggcache.Cache[txquery.DashboardStats]
	catCache  *aggcache.Cache[[]string]

	topCategories = txquery.DefaultTopCategories
	recentLimit   = txquery.DefaultRecentLimit
)

func main() {
	// Load ./.env if present before reading vars; existing env wins.
	_ = godotenv.Load()
	logger = newLogger()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	// Support a lightweight migrate command: `./spendwise migrate`
	// Runs AutoMigrate then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB()
		fmt.Println("migration completed")
		return
	}

	initDB()
	initCaches()

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	setupRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	logger.WithField("port", port).Info("server starting")
	if err := r.Run(":" + port); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func initCaches() {
	ttl := 5 * time.Minute
	if v := envInt("CACHE_TTL_SECONDS"); v > 0 {
		ttl = time.Duration(v) * time.Second
	}
	dashCache = aggcache.New[txquery.DashboardStats](ttl)
	catCache = aggcache.New[[]string](ttl)
	if v := envInt("DASHBOARD_TOP_CATEGORIES"); v > 0 {
		topCategories = v
	}
	if v := envInt("DASHBOARD_RECENT_LIMIT"); v > 0 {
		recentLimit = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
