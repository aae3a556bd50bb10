// Command receiptwatch scans a directory of receipt images, extracts an
// amount from each via OCR and records it as a transaction for one user.
// With --watch it keeps running and ingests files as they appear.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"spendwise/models"
	"spendwise/pkg/receipt"
)

var log = logrus.New()

var db *gorm.DB

// ingestState tracks which files already have a transaction, so rescans
// and watch events stay idempotent without a per-file query.
type ingestState struct {
	mu     sync.RWMutex
	titles map[string]bool
}

func newIngestState() *ingestState {
	return &ingestState{titles: make(map[string]bool, 256)}
}

func (s *ingestState) seen(title string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.titles[title]
}

func (s *ingestState) mark(title string) {
	s.mu.Lock()
	s.titles[title] = true
	s.mu.Unlock()
}

func main() {
	dir := flag.String("dir", "receipts", "directory to scan for receipt images")
	userID := flag.Uint("user-id", 0, "owner of the created transactions (required)")
	category := flag.String("category", "Receipts", "category assigned to created transactions")
	dryRun := flag.Bool("dry-run", false, "run OCR and report amounts without touching the database")
	watch := flag.Bool("watch", false, "keep watching the directory for new files")
	workers := flag.Int("workers", 0, "worker pool size (default NumCPU)")
	flag.Parse()

	log.SetFormatter(&logrus.JSONFormatter{})
	_ = godotenv.Load()

	if *dryRun {
		files := listImageFiles(*dir)
		log.WithField("files", len(files)).Info("dry-run scan")
		for _, f := range files {
			amount, raw, err := receipt.ScanAmount(filepath.Join(*dir, f))
			if err != nil {
				log.WithError(err).WithField("file", f).Warn("no amount")
				continue
			}
			log.WithFields(logrus.Fields{"file": f, "amount": amount, "raw": raw}).Info("found amount")
		}
		return
	}

	if *userID == 0 {
		log.Fatal("--user-id is required")
	}
	var err error
	db, err = openDB()
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	var owner models.User
	if err := db.First(&owner, *userID).Error; err != nil {
		log.WithError(err).Fatalf("user %d not found", *userID)
	}

	state := preload(owner.ID)
	files := listImageFiles(*dir)
	n := effectiveWorkers(*workers)
	log.WithFields(logrus.Fields{"files": len(files), "workers": n}).Info("scanning")

	fileCh := make(chan string, 1024)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				ingestFile(*dir, name, owner.ID, *category, state)
			}
		}()
	}

	for _, f := range files {
		fileCh <- f
	}

	if !*watch {
		close(fileCh)
		wg.Wait()
		return
	}
	if err := watchDirectory(*dir, fileCh); err != nil {
		log.WithError(err).Fatal("watch failed")
	}
}

func openDB() (*gorm.DB, error) {
	driver := os.Getenv("DB_DRIVER")
	dsn := os.Getenv("DB_DSN")
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = "spendwise.db"
		}
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	case "", "postgres":
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("DB_DSN not set in environment")
		}
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

func effectiveWorkers(w int) int {
	if w <= 0 {
		return runtime.NumCPU()
	}
	return w
}

// preload fetches the titles of the user's existing transactions so
// already-ingested receipts are skipped without per-file queries.
func preload(userID uint) *ingestState {
	state := newIngestState()
	var titles []string
	if err := db.Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Pluck("title", &titles).Error; err == nil {
		for _, t := range titles {
			state.titles[t] = true
		}
	}
	return state
}

func listImageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func isSupportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// titleFor derives the transaction title from the file name; the title
// doubles as the idempotency key for rescans.
func titleFor(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return "Receipt " + base
}

func ingestFile(dir, name string, userID uint, category string, state *ingestState) {
	title := titleFor(name)
	if state.seen(title) {
		return
	}

	amount, raw, err := receipt.ScanAmount(filepath.Join(dir, name))
	if err != nil {
		log.WithError(err).WithField("file", name).Warn("skipping receipt")
		return
	}

	tx := models.Transaction{
		UserID:   userID,
		Title:    title,
		Amount:   amount,
		Category: category,
		Date:     time.Now(),
		Notes:    "imported from " + name,
	}
	if err := db.Create(&tx).Error; err != nil {
		log.WithError(err).WithField("file", name).Error("failed to create transaction")
		return
	}
	state.mark(title)
	log.WithFields(logrus.Fields{
		"file": name, "amount": amount, "raw": raw, "id": tx.ID,
	}).Info("ingested receipt")
}

// watchDirectory feeds debounced create events into fileCh. Files are
// held briefly after the event so half-written uploads settle first.
func watchDirectory(dir string, fileCh chan<- string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.WithField("dir", dir).Info("watching")

	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				name := filepath.Base(ev.Name)
				if isSupportedExt(name) {
					pending[name] = time.Now()
				}
			}
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > 300*time.Millisecond { // stable
					fileCh <- name
					delete(pending, name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")
		}
	}
}
