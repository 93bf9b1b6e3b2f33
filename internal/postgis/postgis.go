// Package postgis starts disposable PostGIS databases for
// integration tests.
package postgis

import (
	"context"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDB starts a new PostGIS database in a Docker container
// for testing, enables the postgis extension, and returns a URL to
// connect to the database and the running container. The caller is
// responsible for terminating the container.
func SetupTestDB(ctx context.Context, t *testing.T) (string, testcontainers.Container) {
	const (
		dbhost = "localhost"
		dbname = "postgresTC"
		dbuser = "postgres"
		dbport = "5432"
	)

	// Create the Postgres TestContainer
	req := testcontainers.ContainerRequest{
		Image:        "postgis/postgis:14-3.3",
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", dbport)},
		Env: map[string]string{
			"POSTGRES_DB":               dbname,
			"POSTGRES_USER":             dbuser,
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections"),
	}

	postgresC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Get the port that is mapped to 5432.
	p, _ := postgresC.MappedPort(ctx, "5432")

	postGISURL := fmt.Sprintf("postgres://%s@%s:%s/%s", dbuser, dbhost, p.Port(), dbname)

	var conn *pgx.Conn
	err = backoff.Retry(func() error {
		conn, err = pgx.Connect(context.Background(), postGISURL)
		if err != nil {
			return err
		}
		return nil
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10))
	if err != nil {
		t.Fatal(err)
	}

	if _, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(ctx); err != nil {
		t.Fatal(err)
	}

	return postGISURL, postgresC
}
