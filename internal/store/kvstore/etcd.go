package kvstore

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"ipauth/internal/store"
)

// EtcdConfig holds connection settings for an etcd cluster.
type EtcdConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// EtcdBackend stores keys in etcd.
type EtcdBackend struct {
	client *clientv3.Client
}

// NewEtcdBackend connects to etcd
func NewEtcdBackend(cfg EtcdConfig) (*EtcdBackend, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints not configured")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &EtcdBackend{client: client}, nil
}

func (b *EtcdBackend) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, store.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (b *EtcdBackend) Put(ctx context.Context, key string, value []byte) error {
	if _, err := b.client.Put(ctx, key, string(value)); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent relies on a create revision of 0 meaning the key was never written.
func (b *EtcdBackend) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	resp, err := b.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("failed to create key %s: %w", key, err)
	}
	return resp.Succeeded, nil
}

func (b *EtcdBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (b *EtcdBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := b.client.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

func (b *EtcdBackend) List(ctx context.Context, prefix string) ([][]byte, error) {
	resp, err := b.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	return values, nil
}

func (b *EtcdBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
