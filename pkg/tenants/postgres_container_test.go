package tenants

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// pgDSN is TEST_DATABASE_URL or a throwaway container; pgSkip says why
// postgres subtests are skipped when neither is available.
var pgDSN, pgSkip string

func TestMain(m *testing.M) {
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		pgDSN = dsn
		return m.Run()
	}
	ctx := context.Background()
	c, err := startPostgres(ctx)
	if err != nil {
		pgSkip = "docker not available: " + err.Error()
		return m.Run()
	}
	defer func() { _ = c.Terminate(context.Background()) }()
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container dsn: %v\n", err)
		return 1
	}
	pgDSN = dsn
	return m.Run()
}

func startPostgres(ctx context.Context) (c *postgres.PostgresContainer, err error) {
	// testcontainers panics on some unsupported docker setups
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return nil, err
	}
	defer provider.Close()
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := provider.Client().Ping(pctx); err != nil {
		return nil, err
	}
	return postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("paybroker_test"),
		postgres.WithUsername("paybroker"),
		postgres.WithPassword("paybroker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
}
