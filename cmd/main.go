package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"wearwatch/services"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

var (
	path  = flag.String("path", "", "Database path to read (defaults to FIREBASE_PATH or sensor-data)")
	limit = flag.Int("limit", 20, "Print at most this many records, most recent keys first (0 = all)")
)

// Reads raw records from the Realtime Database and prints the canonical
// readings the engine would ingest for them.
func main() {
	flag.Parse()

	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	dbURL := os.Getenv("FIREBASE_DB_URL")

	if serviceAccountJSON == "" {
		log.Fatal("FIREBASE_SERVICE_ACCOUNT_JSON environment variable is not set")
	}
	if dbURL == "" {
		log.Fatal("FIREBASE_DB_URL environment variable is not set")
	}
	if *path == "" {
		*path = os.Getenv("FIREBASE_PATH")
	}
	if *path == "" {
		*path = "sensor-data"
	}

	ctx := context.Background()
	conf := &firebase.Config{
		DatabaseURL: dbURL,
	}

	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	if err != nil {
		log.Fatalf("Error initializing Firebase app: %v", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		log.Fatalf("Error getting database client: %v", err)
	}

	var records map[string]any
	if err := client.NewRef(*path).Get(ctx, &records); err != nil {
		log.Fatalf("Error reading %s: %v", *path, err)
	}

	fmt.Printf("Total entries found: %d\n", len(records))

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if *limit > 0 && len(keys) > *limit {
		keys = keys[:*limit]
	}

	schema := services.DefaultSchema().WithSource("firebase")
	now := time.Now()
	for _, key := range keys {
		fmt.Printf("Key: %s\n", key)
		for _, reading := range services.Normalize(records[key], schema, now) {
			out, err := json.MarshalIndent(reading, "", "  ")
			if err != nil {
				log.Printf("Error encoding reading: %v", err)
				continue
			}
			fmt.Printf("Reading: %s\n", out)
			fmt.Printf("Flags: %s\n", services.Classify(reading, services.DefaultThresholds()))
		}
		fmt.Println("---")
	}
}
