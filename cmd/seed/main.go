// seed inserts a test user and a handful of single-step HTTP jobs into the
// local dev database and blob store, for exercising the scheduler/worker
// pipeline end to end.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/blobstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/definitionstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/postgres"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// seedUserID is a fixed user ID for local dev seeding; it also stands in as
// the job's tenant ID — this codebase has no tenant concept distinct from
// the authenticated user.
const seedUserID = "user_seed_dev_local"

type jobSpec struct {
	name   string
	url    string
	method string
}

var jobs = []jobSpec{
	// Happy path — should complete successfully
	{"seed-001-post", "https://httpbin.org/post", "POST"},
	{"seed-002-post", "https://httpbin.org/post", "POST"},
	{"seed-003-get", "https://httpbin.org/get", "GET"},

	// Will fail — server returns 5xx, triggers retries and backoff
	{"seed-004-500", "https://httpbin.org/status/500", "POST"},
	{"seed-005-503", "https://httpbin.org/status/503", "POST"},

	// Will fail — not found; a 404 is retried like a 5xx
	{"seed-006-404", "https://httpbin.org/status/404", "GET"},

	// Will time out — httpbin delays the response longer than the step timeout
	{"seed-007-timeout", "https://httpbin.org/delay/35", "GET"},

	// More happy path, PUT method
	{"seed-008-put", "https://httpbin.org/put", "PUT"},
	{"seed-009-get", "https://httpbin.org/get", "GET"},
	{"seed-010-post", "https://httpbin.org/post", "POST"},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	minioClient, err := minio.New(envOr("MINIO_ENDPOINT", "localhost:9000"), &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
		Secure: false,
	})
	if err != nil {
		log.Fatalf("minio connect: %v", err)
	}
	blobs := blobstore.New(minioClient, envOr("MINIO_BUCKET", "job-scheduler"))
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}
	definitions := definitionstore.New(blobs)

	if _, err := pool.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		seedUserID,
	); err != nil {
		log.Fatalf("upsert user: %v", err)
	}

	jobRepo := postgres.NewJobRepository(pool)
	var inserted, skipped int
	var jobIDs []string

	for _, spec := range jobs {
		jobID := definitionstore.NewJobID()
		now := time.Now()

		def := &domain.Definition{
			Name: spec.name,
			Steps: []domain.Step{
				{
					ID:   "call",
					Name: "call " + spec.url,
					Kind: domain.StepHTTP,
					Http: &domain.HTTPStep{Method: spec.method, URL: spec.url},
				},
			},
		}

		job := &domain.Job{
			ID:              jobID,
			TenantID:        seedUserID,
			Name:            spec.name,
			Enabled:         true,
			TimeoutSeconds:  30,
			MaxRetries:      3,
			AllowConcurrent: false,
			Triggers:        domain.TriggerSet{domain.TriggerManual: true, domain.TriggerScheduled: true},
			DefinitionPath:  definitionstore.Path(jobID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := definitions.Put(ctx, jobID, def); err != nil {
			log.Fatalf("put definition %s: %v", spec.name, err)
		}

		if err := jobRepo.Create(ctx, job); err != nil {
			if errors.Is(err, domain.ErrDuplicateJobName) {
				skipped++
				continue
			}
			log.Fatalf("create job %s: %v", spec.name, err)
		}

		jobIDs = append(jobIDs, jobID)
		inserted++
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User/tenant ID: %s\n", seedUserID)
	fmt.Printf("  Jobs created:   %d  (skipped %d already existing)\n", inserted, skipped)
	fmt.Println()

	if len(jobIDs) > 0 {
		fmt.Println("  Sample job IDs:")
		limit := 5
		if len(jobIDs) < limit {
			limit = len(jobIDs)
		}
		for _, id := range jobIDs[:limit] {
			fmt.Printf("    %s\n", id)
		}
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — get a JWT for the seed user (sub=" + seedUserID + "), signed with JWT_SECRET")
	fmt.Println()
	fmt.Println("  Step 2 — fire a job manually (use any ID from above):")
	fmt.Println()
	fmt.Println("    export JWT=eyJ...")
	fmt.Println("    curl -s -X POST http://localhost:8080/jobs/JOB_ID/trigger -H \"Authorization: Bearer $JWT\"")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    seed-001..003, 008..010  →  complete (2xx from httpbin)")
	fmt.Println("    seed-004..005            →  fail after retries (5xx)")
	fmt.Println("    seed-006                 →  fail after retries (404)")
	fmt.Println("    seed-007                 →  fail with a timeout error (35s delay > 30s timeout)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
