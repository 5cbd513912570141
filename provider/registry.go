package provider

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/nci/vegindex/utils"
)

// Build returns the providers named in conf.Providers.Order, in that order.
// Credentials come from the environment. The archive provider is skipped
// when no database handle is given.
func Build(conf *utils.Config, db *sql.DB) ([]SceneProvider, error) {
	s := conf.ServiceConfig
	fetcher := NewHTTPFetcher(s.FetchTimeout(), *s.MaxRetries, s.RetryBackoff(), s.Verbose)

	var providers []SceneProvider
	for _, name := range conf.Providers.Order {
		switch name {
		case "sentinelhub":
			c := conf.Providers.SentinelHub
			providers = append(providers, &SentinelHub{
				BaseURL:      c.BaseURL,
				TokenURL:     c.TokenURL,
				ClientID:     os.Getenv("SENTINELHUB_CLIENT_ID"),
				ClientSecret: os.Getenv("SENTINELHUB_CLIENT_SECRET"),
				Collection:   c.Collection,
				Fetcher:      fetcher,
				Verbose:      s.Verbose,
			})
		case "planetary":
			c := conf.Providers.Planetary
			providers = append(providers, &Planetary{
				STACURL:    c.STACURL,
				DataURL:    c.DataURL,
				Collection: c.Collection,
				Fetcher:    fetcher,
				Verbose:    s.Verbose,
			})
		case "earthsearch":
			c := conf.Providers.EarthSearch
			providers = append(providers, &EarthSearch{
				STACURL:    c.STACURL,
				TilerURL:   c.TilerURL,
				Collection: c.Collection,
				Fetcher:    fetcher,
				Verbose:    s.Verbose,
			})
		case "archive":
			if db == nil {
				continue
			}
			providers = append(providers, &Archive{
				DB:       db,
				Table:    conf.Providers.Archive.Table,
				TilerURL: conf.Providers.Archive.TilerURL,
				Fetcher:  fetcher,
				Verbose:  s.Verbose,
			})
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return providers, nil
}

// OpenArchive connects to the scene index when ARCHIVE_DSN is set.
func OpenArchive(pool int) (*sql.DB, error) {
	dsn := os.Getenv("ARCHIVE_DSN")
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(pool)
	db.SetMaxOpenConns(pool * 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
