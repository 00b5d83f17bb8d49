package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/opensource-finance/claimguard/internal/domain"
)

const (
	defaultPostgresHost = "localhost"
	defaultPostgresPort = 5432
	defaultPostgresDB   = "claimguard"
	applicationName     = "claimguard"
)

// openPostgres opens the shared store used when several scoring nodes write
// to one audit trail.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}
	db := sql.OpenDB(connector)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN renders the settings as a URL so that credentials containing
// spaces or quotes survive without manual escaping.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = defaultPostgresHost
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = defaultPostgresPort
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = defaultPostgresDB
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + dbname,
	}
	switch {
	case cfg.PostgresUser != "" && cfg.PostgresPassword != "":
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	case cfg.PostgresUser != "":
		u.User = url.User(cfg.PostgresUser)
	}

	q := url.Values{}
	q.Set("sslmode", sslmode)
	q.Set("application_name", applicationName)
	u.RawQuery = q.Encode()

	return u.String()
}
