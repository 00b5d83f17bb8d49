package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultSQLitePath = "./claimguard.db"

// sqlitePragmas apply to every pooled connection. synchronous(FULL) keeps an
// acknowledged audit append on disk across a power loss; WAL lets the audit
// and history readers run next to the single writer.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(FULL)",
	"busy_timeout(5000)",
}

// openSQLite opens the embedded store used for single-node deployments.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}
