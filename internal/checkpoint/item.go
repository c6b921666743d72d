package checkpoint

import (
	"context"
	"fmt"

	"github.com/JakeFAU/icrawler/internal/ingest"
)

// Snapshot durably stores msg under its item key and attaches the key as
// the message's checkpoint reference. Any previous reference is dropped
// first so the stored copy never points at itself.
func Snapshot(ctx context.Context, s Store, cfgFP string, msg *ingest.Record) (string, error) {
	msg.ClearCheckpointRef()
	key := ItemKey(cfgFP, msg.Fingerprint())
	if err := s.Write(ctx, key, msg); err != nil {
		return "", fmt.Errorf("snapshot message: %w", err)
	}
	msg.SetCheckpointRef(key)
	return key, nil
}

// Release deletes the snapshot referenced by msg, if any, and detaches the
// reference so a second call is a no-op.
func Release(ctx context.Context, s Store, msg *ingest.Record) error {
	key := msg.ClearCheckpointRef()
	if key == "" {
		return nil
	}
	if err := s.Delete(ctx, key); err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return nil
}
