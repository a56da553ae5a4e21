package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pelagus-ai/agentrt/agent"
	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/store"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else if err := connectTestRedis(ctx); err != nil {
		fmt.Printf("%v\n", err)
		skipIntegration = true
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

func connectTestRedis(ctx context.Context) error {
	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("get container host: %w", err)
	}
	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		return fmt.Errorf("get container port: %w", err)
	}
	testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	if err := testRedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// getRedis returns the shared Redis client, flushed for test isolation.
// Skips the test when Docker is not available.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

func TestSaveLoadRoundTrips(t *testing.T) {
	s, err := New(Options{Client: getRedis(t)})
	require.NoError(t, err)

	run := agent.PausedRun{
		RunID:    "run-1",
		Messages: []message.Message{message.UserText("hi")},
		Usage:    message.Usage{Requests: 1, InputTokens: 3},
		PendingCalls: []agent.PendingCall{
			{Call: message.ToolCall{ID: "call-1", Name: "lookup"}},
		},
	}
	require.NoError(t, s.Save(context.Background(), run))

	got, err := s.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Usage, got.Usage)
	require.Len(t, got.PendingCalls, 1)
	assert.Equal(t, "lookup", got.PendingCalls[0].Call.Name)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	s, err := New(Options{Client: getRedis(t)})
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesSavedRun(t *testing.T) {
	s, err := New(Options{Client: getRedis(t)})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), agent.PausedRun{RunID: "run-1"}))

	require.NoError(t, s.Delete(context.Background(), "run-1"))

	_, err = s.Load(context.Background(), "run-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveRespectsKeyPrefix(t *testing.T) {
	client := getRedis(t)
	s, err := New(Options{Client: client, KeyPrefix: "custom:"})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), agent.PausedRun{RunID: "run-1"}))

	exists, err := client.Exists(context.Background(), "custom:run-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestSaveRejectsEmptyRunID(t *testing.T) {
	s, err := New(Options{Client: getRedis(t)})
	require.NoError(t, err)
	err = s.Save(context.Background(), agent.PausedRun{})
	assert.Error(t, err)
}
