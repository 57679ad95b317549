package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// recordFetcher reads keyed records newer than a checkpoint
type recordFetcher interface {
	FetchSince(ctx context.Context, since time.Time) (map[string]any, error)
}

type firebaseFetcher struct {
	ref *db.Ref
}

func (f *firebaseFetcher) FetchSince(ctx context.Context, since time.Time) (map[string]any, error) {
	// Query records newer than the checkpoint (requires an index on timestamp)
	query := f.ref.OrderByChild("timestamp").StartAt(since.Format(time.RFC3339))

	var data map[string]any
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error getting records: %w", err)
	}
	return data, nil
}

// NewFirebaseClient opens the Realtime Database and checks connectivity
func NewFirebaseClient(ctx context.Context, dbURL, serviceAccountJSON string, logger *zap.Logger) (*db.Client, error) {
	conf := &firebase.Config{
		DatabaseURL: dbURL,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	if err := testFirebaseConnection(ctx, client, logger); err != nil {
		return nil, err
	}
	return client, nil
}

func testFirebaseConnection(ctx context.Context, client *db.Client, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var data any
		err := client.NewRef("/").Get(ctx, &data)
		if err == nil {
			logger.Info("Firebase connection successful")
			return nil
		}

		logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// FirebaseSource polls a Realtime Database path of keyed reading records
type FirebaseSource struct {
	fetcher  recordFetcher
	interval time.Duration
	schema   Schema
	logger   *zap.Logger

	checkpoint time.Time
	processed  map[string]bool
}

func NewFirebaseSource(client *db.Client, path string, interval time.Duration, schema Schema, logger *zap.Logger) *FirebaseSource {
	return newFirebaseSource(&firebaseFetcher{ref: client.NewRef(path)}, interval, schema, logger)
}

func newFirebaseSource(fetcher recordFetcher, interval time.Duration, schema Schema, logger *zap.Logger) *FirebaseSource {
	return &FirebaseSource{
		fetcher:    fetcher,
		interval:   interval,
		schema:     schema.WithSource("firebase"),
		logger:     logger,
		checkpoint: time.Now().Add(-1 * time.Minute),
		processed:  make(map[string]bool),
	}
}

func (fs *FirebaseSource) Name() string { return "firebase" }

func (fs *FirebaseSource) Run(ctx context.Context, sink Sink) error {
	return pollLoop(ctx, fs.Name(), fs.interval, fs.logger, sink, func(ctx context.Context) error {
		return fs.poll(ctx, sink)
	})
}

// poll emits every unseen record in key order and advances the checkpoint
func (fs *FirebaseSource) poll(ctx context.Context, sink Sink) error {
	data, err := fs.fetcher.FetchSince(ctx, fs.checkpoint)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	newRecords := 0
	latest := fs.checkpoint
	for _, key := range keys {
		if fs.processed[key] {
			continue
		}
		record, ok := data[key].(map[string]any)
		if !ok {
			fs.logger.Warn("Invalid record format", zap.String("record_id", key))
			fs.processed[key] = true
			continue
		}

		if err := sink.Emit(ctx, record, fs.schema); err != nil {
			return fmt.Errorf("emit record %s: %w", key, err)
		}
		fs.processed[key] = true
		newRecords++

		ts := resolveTimestamp(newFieldIndex(flattenEnvelope(record)), fs.schema.TimestampKeys, time.Time{})
		if ts.After(latest) {
			latest = ts
		}
	}

	if newRecords > 0 {
		fs.checkpoint = latest
		fs.logger.Info("Processed new records",
			zap.Int("count", newRecords),
			zap.Time("checkpoint", fs.checkpoint))
	}

	fs.pruneProcessed()
	return nil
}

// pruneProcessed bounds the dedup cache, keeping the most recent keys
func (fs *FirebaseSource) pruneProcessed() {
	if len(fs.processed) <= 500 {
		return
	}
	keys := make([]string, 0, len(fs.processed))
	for k := range fs.processed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keep := make(map[string]bool, 250)
	for _, k := range keys[len(keys)-250:] {
		keep[k] = true
	}
	fs.processed = keep
	fs.logger.Debug("Cleaned processed records cache")
}
