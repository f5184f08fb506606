package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	goreason "github.com/brunobiangulo/ldip"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GOOGLE_API_KEY not set")
		os.Exit(1)
	}

	tmpDir, _ := os.MkdirTemp("", "goreason-e2e-*")
	defer os.RemoveAll(tmpDir)
	dbPath := tmpDir + "/test.db"

	cfg := goreason.Config{
		StorageBackend: "sqlite",
		DBPath:         dbPath,
		Chat: goreason.LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			APIKey:   apiKey,
		},
		Embedding: goreason.LLMConfig{
			Provider: "gemini",
			Model:    "gemini-embedding-001",
			APIKey:   apiKey,
		},
		WeightVector:   1.0,
		WeightFTS:      1.0,
		MaxChunkTokens: 1024,
		ChunkOverlap:   128,
		EmbeddingDim:   3072,
	}

	const matterID = "e2e00000-0000-0000-0000-000000000001"
	const userID = "e2e00000-0000-0000-0000-000000000002"

	engine, err := goreason.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := seedMatter(dbPath, matterID, userID); err != nil {
		fmt.Fprintf(os.Stderr, "seeding matter: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Ingest
	docPath := "data/corpus/cuad/ACCURAYINC_09_01_2010-EX-10.31-DISTRIBUTOR AGREEMENT.txt"
	fmt.Fprintf(os.Stderr, "\n=== INGESTING %s ===\n", docPath)
	doc, err := engine.Ingest(ctx, matterID, userID, docPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Ingested document_id=%s\n", doc.ID)

	// Query
	question := "What are the termination conditions in this agreement?"
	fmt.Fprintf(os.Stderr, "\n=== QUERYING: %s ===\n", question)
	answer, err := engine.Query(ctx, matterID, userID, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\n=== ANSWER ===\n%s\n", answer.Text)

	out, _ := json.MarshalIndent(answer.Sources, "", "  ")
	fmt.Println(string(out))
}

// seedMatter inserts a matter and a member row directly against the
// SQLite file: matter provisioning is owned by the tenant/identity system
// this engine sits behind, so there is no Engine method for it.
func seedMatter(dbPath, matterID, userID string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO matters (id, title) VALUES (?, ?)`, matterID, "E2E Smoke Test Matter"); err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO matter_members (matter_id, user_id) VALUES (?, ?)`, matterID, userID)
	return err
}
