package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/db"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/db/migrate"
)

var (
	testRedisClient *redis.Client
	testPostgres    *sql.DB
	skipRedis       bool
	skipPostgres    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	redisC, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})
	if err != nil {
		fmt.Printf("Docker not available, redis tests will be skipped: %v\n", err)
		skipRedis = true
	} else if addr, err := endpoint(ctx, redisC, "6379"); err != nil {
		fmt.Printf("Failed to get redis endpoint: %v\n", err)
		skipRedis = true
	} else {
		testRedisClient = redis.NewClient(&redis.Options{Addr: addr})
		if err := testRedisClient.Ping(ctx).Err(); err != nil {
			fmt.Printf("Failed to ping redis: %v\n", err)
			skipRedis = true
		}
	}

	pgC, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "bridge",
			"POSTGRES_PASSWORD": "bridge",
			"POSTGRES_DB":       "bridge",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		fmt.Printf("Docker not available, postgres tests will be skipped: %v\n", err)
		skipPostgres = true
	} else if addr, err := endpoint(ctx, pgC, "5432"); err != nil {
		fmt.Printf("Failed to get postgres endpoint: %v\n", err)
		skipPostgres = true
	} else {
		dsn := "postgres://bridge:bridge@" + addr + "/bridge?sslmode=disable"
		if err := migrate.Run(dsn, migrate.Up); err != nil {
			fmt.Printf("Failed to migrate postgres: %v\n", err)
			skipPostgres = true
		} else if testPostgres, err = db.Open(ctx, dsn, db.PoolOptions{}); err != nil {
			fmt.Printf("Failed to open postgres: %v\n", err)
			skipPostgres = true
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testPostgres != nil {
		_ = testPostgres.Close()
	}
	for _, c := range []testcontainers.Container{redisC, pgC} {
		if c != nil {
			_ = c.Terminate(ctx)
		}
	}
	os.Exit(code)
}

// startContainer starts req, turning the panic testcontainers raises without Docker into an error.
func startContainer(ctx context.Context, req testcontainers.ContainerRequest) (c testcontainers.Container, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("docker not available: %v", r)
		}
	}()
	c, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if c != nil {
			_ = c.Terminate(ctx)
		}
		return nil, err
	}
	return c, nil
}

func endpoint(ctx context.Context, c testcontainers.Container, port string) (string, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", err
	}
	return host + ":" + mapped.Port(), nil
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipRedis {
		t.Skip("Docker not available, skipping redis test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

func getPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if skipPostgres {
		t.Skip("Docker not available, skipping postgres test")
	}
	_, err := testPostgres.Exec(`TRUNCATE chat_messages, chat_histories, chat_sessions, chat_routes, chat_seen`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return testPostgres
}
