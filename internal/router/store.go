// Package router resolves recipient addresses to webhook endpoints and
// dispatches the prepared notification body, one delivery per recipient.
package router

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultRouteKey is the fallback entry consulted when an address has no
// route of its own.
const DefaultRouteKey = "default"

// ErrRouteNotFound is returned by a RouteStore when a key has no entry.
var ErrRouteNotFound = errors.New("route not found")

// RouteStore is a read-only key-value lookup from recipient address to
// webhook URL. The table is externally owned; the relay never writes it.
type RouteStore interface {
	Lookup(ctx context.Context, address string) (string, error)
}

// RedisStore resolves routes from a Redis keyspace, the production backing
// for the routing table.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. The prefix is prepended to every
// lookup key so the routing table can share a database with other data.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Lookup implements RouteStore.
func (s *RedisStore) Lookup(ctx context.Context, address string) (string, error) {
	url, err := s.client.Get(ctx, s.prefix+address).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRouteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("route lookup for %q: %w", address, err)
	}
	return url, nil
}

// Ping reports whether the backing Redis is reachable. Used by the health
// endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// StaticStore serves routes from an in-memory map, loaded from a YAML file
// for deployments without Redis.
type StaticStore struct {
	routes map[string]string
}

// NewStaticStore creates a StaticStore over the given map.
func NewStaticStore(routes map[string]string) *StaticStore {
	if routes == nil {
		routes = make(map[string]string)
	}
	return &StaticStore{routes: routes}
}

// routesFile is the YAML shape of a static routing table.
type routesFile struct {
	Routes map[string]string `yaml:"routes"`
}

// LoadStaticStore reads a routing table from a YAML file of the form:
//
//	routes:
//	  alice@example.com: https://hooks.example.com/abc
//	  default: https://hooks.example.com/fallback
func LoadStaticStore(path string) (*StaticStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes file: %w", err)
	}
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing routes file %s: %w", path, err)
	}
	return NewStaticStore(f.Routes), nil
}

// Lookup implements RouteStore.
func (s *StaticStore) Lookup(_ context.Context, address string) (string, error) {
	url, ok := s.routes[address]
	if !ok {
		return "", ErrRouteNotFound
	}
	return url, nil
}
