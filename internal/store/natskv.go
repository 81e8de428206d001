package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/pkg/logger"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL    string
	Token  string
	Bucket string
}

// NATS is a Store backed by a JetStream KeyValue bucket. Hierarchical
// paths map to dotted keys; subscriptions are KV watchers replayed into
// full snapshots.
type NATS struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	logger *logger.Logger
}

// ConnectNATS establishes the NATS connection and ensures the bucket
// exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			History:     1,
			Description: "Chat sessions and messages",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open KV bucket: %w", err)
	}

	return &NATS{conn: nc, kv: kv, logger: log}, nil
}

// IsConnected reports whether the NATS connection is up.
func (s *NATS) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Write stores a document at path.
func (s *NATS) Write(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if _, err := s.kv.Put(ctx, pathKey(path), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Patch merges partial into the document at path.
func (s *NATS) Patch(ctx context.Context, path string, partial any) error {
	data, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	var existing []byte
	entry, err := s.kv.Get(ctx, pathKey(path))
	switch {
	case err == nil:
		existing = entry.Value()
	case errors.Is(err, jetstream.ErrKeyNotFound):
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	merged, err := mergePatch(existing, data)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, pathKey(path), merged); err != nil {
		return fmt.Errorf("failed to patch %s: %w", path, err)
	}
	return nil
}

// Delete removes the document at path.
func (s *NATS) Delete(ctx context.Context, path string) error {
	err := s.kv.Purge(ctx, pathKey(path))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// DeleteTree removes the document at prefix and its whole subtree.
func (s *NATS) DeleteTree(ctx context.Context, prefix string) error {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	root := pathKey(prefix)
	for key := range lister.Keys() {
		if key != root && !strings.HasPrefix(key, root+".") {
			continue
		}
		if err := s.kv.Purge(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// Subscribe watches the direct children of prefix and delivers full
// snapshots: once after the initial replay, then after every change.
func (s *NATS) Subscribe(ctx context.Context, prefix string, onSnapshot func(Snapshot)) (UnsubscribeFunc, error) {
	prefixKey := pathKey(prefix)

	watchCtx, cancel := context.WithCancel(context.Background())
	watcher, err := s.kv.Watch(watchCtx, prefixKey+".*")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", prefix, err)
	}

	go func() {
		state := make(Snapshot)
		replayed := false

		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// Initial replay complete.
					replayed = true
					onSnapshot(cloneSnapshot(state))
					continue
				}

				id := strings.TrimPrefix(entry.Key(), prefixKey+".")
				switch entry.Operation() {
				case jetstream.KeyValuePut:
					state[id] = append(json.RawMessage(nil), entry.Value()...)
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					delete(state, id)
				}

				if replayed {
					onSnapshot(cloneSnapshot(state))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := watcher.Stop(); err != nil {
				s.logger.Warn("failed to stop KV watcher", zap.Error(err))
			}
			cancel()
		})
	}, nil
}

// Close closes the NATS connection.
func (s *NATS) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func pathKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
