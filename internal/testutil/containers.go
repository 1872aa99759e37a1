// Package testutil provides helpers shared across integration tests.
//
// Each Start* helper launches a disposable Docker container with
// testcontainers and returns its address along with a cleanup function.
// Tests calling them should skip in -short mode.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// ReadyTimeout bounds how long helpers wait for a container to serve.
	ReadyTimeout = 60 * time.Second

	pollInterval = 50 * time.Millisecond
)

// SkipIfShort skips integration tests in -short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
}

func start(ctx context.Context, req tc.ContainerRequest, port string) (string, string, func(), error) {
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", "", nil, err
	}
	cleanup := func() { _ = cont.Terminate(context.Background()) }
	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return "", "", nil, err
	}
	mapped, err := cont.MappedPort(ctx, nat.Port(port))
	if err != nil {
		cleanup()
		return "", "", nil, err
	}
	return host, mapped.Port(), cleanup, nil
}

// StartPostgres launches PostgreSQL and returns a connection URL.
func StartPostgres(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "citro80",
			"POSTGRES_PASSWORD": "citro80",
			"POSTGRES_DB":       "citro80",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(ReadyTimeout),
	}
	host, port, cleanup, err := start(ctx, req, "5432")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("postgres://citro80:citro80@%s:%s/citro80?sslmode=disable", host, port), cleanup, nil
}

// StartRedis launches Redis and returns its address.
func StartRedis(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(ReadyTimeout),
	}
	host, port, cleanup, err := start(ctx, req, "6379")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s:%s", host, port), cleanup, nil
}

// StartNATS launches a NATS server with JetStream enabled and returns its URL.
func StartNATS(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(ReadyTimeout),
	}
	host, port, cleanup, err := start(ctx, req, "4222")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("nats://%s:%s", host, port), cleanup, nil
}

// StartMosquitto launches a temporary Mosquitto broker and returns its
// broker URL.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	conf := `listener 1883
allow_anonymous true
persistence false
`
	dir, err := os.MkdirTemp("", "mosq")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			},
		},
	}
	host, port, stop, err := start(ctx, req, "1883")
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	cleanup := func() {
		stop()
		_ = os.RemoveAll(dir)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port)

	waitCtx, cancel := context.WithTimeout(ctx, ReadyTimeout)
	defer cancel()
	if err := waitForMQTTReady(waitCtx, broker); err != nil {
		cleanup()
		return "", nil, err
	}
	return broker, cleanup, nil
}

func waitForMQTTReady(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	for {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
