package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/authorized-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	practitionerIDs, err := seedPractitioners(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed practitioners: %v", err)
	}
	_ = practitionerIDs

	serviceCodeIDs, err := seedServiceCodes(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed service codes: %v", err)
	}

	patientIDs, err := seedPatients(context.Background(), pool, 2000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	if err := seedAuthorizations(context.Background(), pool, patientIDs, serviceCodeIDs); err != nil {
		log.Fatalf("seed authorizations: %v", err)
	}

	log.Println("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d practitioners", count)

	specialties := []string{
		"Behavioral Therapy",
		"Speech Therapy",
		"Occupational Therapy",
		"Physical Therapy",
		"Psychology",
		"Psychiatry",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedServiceCodes(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	codes := map[string]string{
		"97153": "Adaptive behavior treatment by protocol",
		"97155": "Adaptive behavior treatment with protocol modification",
		"92507": "Speech/language treatment, individual",
		"97530": "Therapeutic activities",
		"90834": "Psychotherapy, 45 minutes",
	}

	log.Printf("seeding %d service codes", len(codes))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ids []uuid.UUID
	for code, description := range codes {
		id, err := upsertServiceCode(ctx, tx, code, description)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

// upsertServiceCode inserts the code or, on a re-run, refreshes the
// description of the existing row. Either way the returned id is the
// persisted one, so authorizations never reference a row that was
// discarded by the conflict.
func upsertServiceCode(ctx context.Context, q db.Querier, code, description string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx, `
		INSERT INTO service_codes (id, code, description, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description
		RETURNING id
	`, uuid.New(), code, description).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

// seedAuthorizations grants each patient one unit pool on a random
// service code, sized like a typical quarterly authorization.
func seedAuthorizations(ctx context.Context, pool *pgxpool.Pool, patientIDs, serviceCodeIDs []uuid.UUID) error {
	log.Printf("seeding %d authorizations", len(patientIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, patientID := range patientIDs {
		id := uuid.New()
		serviceCodeID := serviceCodeIDs[gofakeit.Number(0, len(serviceCodeIDs)-1)]
		totalUnits := gofakeit.Number(20, 240)

		_, err := tx.Exec(ctx, `
			INSERT INTO authorizations (id, patient_id, service_code_id, total_units, scheduled_units, used_units, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, 0, now(), now())
		`, id, patientID, serviceCodeID, totalUnits)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
