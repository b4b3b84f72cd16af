// Package util provides helpers shared across integration tests.
//
// StartMongo launches a disposable MongoDB instance in a Docker container
// and returns its connection URI with a cleanup function.
package util

import (
	"context"
	"fmt"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	MongoReadyTimeout = 30 * time.Second

	pollInterval = 50 * time.Millisecond
)

// StartMongo launches a temporary MongoDB server inside a Docker container
// and returns its URI along with a cleanup function.
func StartMongo(ctx context.Context) (string, func(), error) {
	req := tc.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
	}

	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	port, err := cont.MappedPort(ctx, "27017")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())

	waitCtx, cancel := context.WithTimeout(ctx, MongoReadyTimeout)
	defer cancel()
	if err := waitForMongoReady(waitCtx, uri); err != nil {
		cleanup()
		return "", nil, err
	}
	return uri, cleanup, nil
}

func waitForMongoReady(ctx context.Context, uri string) error {
	for {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(ctx, nil)
			_ = client.Disconnect(context.Background())
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("mongo not ready: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
