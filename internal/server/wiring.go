package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/mohammad-safakhou/incidentsync/config"
	"github.com/mohammad-safakhou/incidentsync/internal/archive"
	"github.com/mohammad-safakhou/incidentsync/internal/featurestore"
	"github.com/mohammad-safakhou/incidentsync/internal/feed"
	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"github.com/mohammad-safakhou/incidentsync/internal/queue/streams"
	"github.com/mohammad-safakhou/incidentsync/internal/store"
	"github.com/mohammad-safakhou/incidentsync/internal/tabular"
	"github.com/redis/go-redis/v9"
)

// Components are the long-lived dependencies shared by serve and the one-shot
// sync commands. Store and Redis are nil when not configured.
type Components struct {
	Pipeline *pipeline.Pipeline
	Store    *store.Store
	Redis    *redis.Client
}

// Close releases pools.
func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

// BuildComponents wires the pipeline from configuration.
func BuildComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	httpClient := &http.Client{Timeout: cfg.General.HTTPTimeout}
	pipeLogger := log.New(log.Writer(), "[PIPE] ", log.LstdFlags)

	fs := featurestore.New(featurestore.Config{
		OAuth2URL:         cfg.ArcGIS.OAuth2URL,
		ClientID:          cfg.ArcGIS.ClientID,
		ClientSecret:      cfg.ArcGIS.ClientSecret,
		ExpirationMinutes: cfg.ArcGIS.TokenExpirationMinutes,
		FeatureServerURL:  cfg.ArcGIS.FeatureServerURL,
		LayerID:           cfg.ArcGIS.LayerID,
	}, httpClient)

	deps := pipeline.Deps{
		Feed:     feed.NewClient(cfg.Feed.Endpoint, cfg.Feed.Headers, cfg.Feed.Params, httpClient, pipeLogger),
		Encoder:  tabular.NewEncoder(cfg.Encoding.Location(), cfg.Encoding.DateTimeLayout),
		Issuer:   fs,
		Uploader: fs,
		Merger:   fs,
		Pruner:   featurestore.NewPruner(fs, cfg.Retention.PredicateField, cfg.Retention.Window),
		Logger:   pipeLogger,
	}
	comps := &Components{}
	var recorders pipeline.Recorders

	if cfg.Storage.Postgres.Enabled() {
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return nil, err
		}
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		comps.Store = st
		recorders = append(recorders, st)
	}

	if cfg.Storage.Redis.Enabled() {
		r := cfg.Storage.Redis
		rdb := redis.NewClient(&redis.Options{Addr: r.Addr(), Password: r.Password, DB: r.DB, DialTimeout: r.Timeout})
		if err := rdb.Ping(ctx).Err(); err != nil {
			comps.Close()
			return nil, fmt.Errorf("redis connection failed (%s): %w", r.Addr(), err)
		}
		comps.Redis = rdb
		recorders = append(recorders, &streams.RunEvents{Publisher: streams.NewPublisher(rdb, r.EventsStream, r.EventsMaxLen)})
	}
	switch len(recorders) {
	case 0:
	case 1:
		deps.Recorder = recorders[0]
	default:
		deps.Recorder = recorders
	}

	if cfg.Storage.S3.Enabled() {
		s3, err := archive.NewS3Store(cfg.Storage.S3)
		if err != nil {
			comps.Close()
			return nil, err
		}
		deps.Archiver = archive.New(s3, cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix)
	}

	p, err := pipeline.New(pipeline.Config{
		FeedTypes:   cfg.Feed.Types,
		ArtifactDir: cfg.Encoding.ArtifactDir,
	}, deps)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Pipeline = p
	return comps, nil
}
