package kvstore

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"

	"ipauth/internal/store"
)

// ConsulConfig holds connection settings for the Consul KV store.
type ConsulConfig struct {
	Address string
	Token   string
}

// ConsulBackend stores keys in Consul's KV store.
type ConsulBackend struct {
	kv *api.KV
}

func NewConsulBackend(cfg ConsulConfig) (*ConsulBackend, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Token != "" {
		apiCfg.Token = cfg.Token
	}
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulBackend{kv: client.KV()}, nil
}

func queryOptions(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

func writeOptions(ctx context.Context) *api.WriteOptions {
	return (&api.WriteOptions{}).WithContext(ctx)
}

func (b *ConsulBackend) Get(ctx context.Context, key string) ([]byte, error) {
	pair, _, err := b.kv.Get(key, queryOptions(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if pair == nil {
		return nil, store.ErrNotFound
	}
	return pair.Value, nil
}

func (b *ConsulBackend) Put(ctx context.Context, key string, value []byte) error {
	if _, err := b.kv.Put(&api.KVPair{Key: key, Value: value}, writeOptions(ctx)); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent uses a check-and-set with ModifyIndex 0, which Consul only
// accepts when the key does not exist.
func (b *ConsulBackend) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, _, err := b.kv.CAS(&api.KVPair{Key: key, Value: value, ModifyIndex: 0}, writeOptions(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to create key %s: %w", key, err)
	}
	return ok, nil
}

func (b *ConsulBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.kv.Delete(key, writeOptions(ctx)); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (b *ConsulBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := b.kv.DeleteTree(prefix, writeOptions(ctx)); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

func (b *ConsulBackend) List(ctx context.Context, prefix string) ([][]byte, error) {
	pairs, _, err := b.kv.List(prefix, queryOptions(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	values := make([][]byte, 0, len(pairs))
	for _, p := range pairs {
		values = append(values, p.Value)
	}
	return values, nil
}

// Close is a no-op; the consul client holds no long-lived connection.
func (b *ConsulBackend) Close() error { return nil }
