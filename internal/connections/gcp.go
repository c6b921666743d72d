package connections

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
)

// Storage returns the shared Cloud Storage client.
func (m *Manager) Storage(ctx context.Context) (*storage.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.gcs != nil {
		return m.gcs, nil
	}
	if !m.cfg.GCS.Enabled {
		return nil, fmt.Errorf("%w: gcs", ErrNotConfigured)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	m.gcs = client
	return client, nil
}

// PubSub returns the shared Pub/Sub client.
func (m *Manager) PubSub(ctx context.Context) (*pubsub.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if m.pubsub != nil {
		return m.pubsub, nil
	}
	if m.cfg.PubSub.ProjectID == "" {
		return nil, fmt.Errorf("%w: pubsub project_id", ErrNotConfigured)
	}
	client, err := pubsub.NewClient(ctx, m.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	m.pubsub = client
	return client, nil
}
