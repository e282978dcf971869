package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// specimenSchema is the fixture schema integration tests import into: a
// small specimen-collection database with the reference chains the engine
// has to walk (samples -> hosts -> locations/taxonomy).
const specimenSchema = `
CREATE TABLE locations (
    location_id SERIAL PRIMARY KEY,
    province VARCHAR(255),
    district VARCHAR(255),
    village VARCHAR(255),
    site_name VARCHAR(255),
    created_at TIMESTAMP,
    updated_at TIMESTAMP
);

CREATE TABLE taxonomy (
    taxonomy_id SERIAL PRIMARY KEY,
    scientific_name VARCHAR(255) NOT NULL UNIQUE,
    species VARCHAR(255),
    created_at TIMESTAMP,
    updated_at TIMESTAMP
);

CREATE TABLE hosts (
    host_id SERIAL PRIMARY KEY,
    bag_id VARCHAR(100),
    host_type VARCHAR(50),
    scientific_name VARCHAR(255),
    collection_date VARCHAR(50),
    collectors VARCHAR(255),
    location_id INTEGER REFERENCES locations(location_id),
    taxonomy_id INTEGER REFERENCES taxonomy(taxonomy_id),
    created_at TIMESTAMP,
    updated_at TIMESTAMP,
    created_by VARCHAR(100)
);

CREATE TABLE samples (
    sample_pk SERIAL PRIMARY KEY,
    sample_id VARCHAR(100),
    sample_type VARCHAR(100),
    host_id INTEGER REFERENCES hosts(host_id),
    created_at TIMESTAMP,
    updated_at TIMESTAMP
);

CREATE TABLE screening_results (
    id SERIAL PRIMARY KEY,
    sample_id VARCHAR(100),
    test_type VARCHAR(100),
    test_result VARCHAR(100),
    cdna_date VARCHAR(50),
    pancorona VARCHAR(100),
    created_at TIMESTAMP,
    updated_at TIMESTAMP
);

CREATE TABLE audit_log (
    id SERIAL PRIMARY KEY,
    action VARCHAR(255)
);
`

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	Host      string
	Port      int
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container with the specimen fixture
// schema loaded. The container is created once and reused across all tests
// in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "specimens_test",
			"POSTGRES_USER":     "haoxai",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://haoxai:test_password@%s:%s/specimens_test?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if _, err := pool.Exec(ctx, specimenSchema); err != nil {
		return nil, fmt.Errorf("failed to load fixture schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		Host:      host,
		Port:      port.Int(),
		ConnStr:   connStr,
	}, nil
}

// TruncateAll clears every fixture table between tests, keeping the shared
// container reusable.
func (db *TestDB) TruncateAll(t *testing.T) {
	t.Helper()

	_, err := db.Pool.Exec(context.Background(),
		"TRUNCATE screening_results, samples, hosts, taxonomy, locations, audit_log RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("Failed to truncate fixture tables: %v", err)
	}
}
