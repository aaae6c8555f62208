package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/unmnd/nv/internal/nvconfig"
	"github.com/unmnd/nv/nverrors"
)

// autodetectCandidates is the ordered list of hostnames probed when neither
// an explicit unix socket nor an explicit host is configured.
var autodetectCandidates = []string{"localhost", "redis", "127.0.0.1"}

// Connect resolves and dials a broker Client per cfg's backend selector and
// connection precedence: (1) explicit unix socket, (2) explicit host+port,
// (3) autodetect by probing autodetectCandidates until one answers a
// liveness ping. Returns nverrors.ErrBrokerUnavailable if all candidates
// fail.
func Connect(ctx context.Context, cfg nvconfig.Config) (Client, error) {
	if cfg.Backend == nvconfig.BrokerBackendEmbedded {
		return sharedEmbedded(cfg.EmbeddedDir)
	}

	if cfg.UnixSocket != "" {
		return dialAndPing(ctx, RedisOptions{UnixSocket: cfg.UnixSocket})
	}

	if cfg.RedisHost != "" {
		return dialAndPing(ctx, RedisOptions{Addr: fmt.Sprintf("%s:%s", cfg.RedisHost, portOr(cfg.RedisPort))})
	}

	var lastErr error
	for _, host := range autodetectCandidates {
		client, err := dialAndPing(ctx, RedisOptions{Addr: fmt.Sprintf("%s:%s", host, portOr(cfg.RedisPort))})
		if err == nil {
			return client, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: tried %v: %v", nverrors.ErrBrokerUnavailable, autodetectCandidates, lastErr)
}

func portOr(p string) string {
	if p == "" {
		return "6379"
	}
	return p
}

func dialAndPing(ctx context.Context, opts RedisOptions) (Client, error) {
	client, err := NewRedis(opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
