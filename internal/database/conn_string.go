package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/tradovate-stream/internal/config"
)

// ApplicationName is reported to Postgres in pg_stat_activity.
const ApplicationName = "tradovate-stream"

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	if cfg.SSLMode == "" {
		q.Set("sslmode", "prefer")
	}
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
