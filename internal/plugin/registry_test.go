package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/ingest"
)

type nopProcessor struct{}

func (nopProcessor) ListPage(context.Context, *ingest.Record, int) (ingest.Page, error) {
	return ingest.Page{}, nil
}

func (nopProcessor) DetailPage(context.Context, *ingest.Record, *ingest.Record) (ingest.Signal, error) {
	return ingest.SignalContinue, nil
}

type nopPipeline struct{}

func (nopPipeline) Process(context.Context, ingest.PluginConfig, *ingest.Record, *ingest.Record) error {
	return nil
}

// TestRegistryResolves ensures registered identifiers build their plugins.
func TestRegistryResolves(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Deps{Logger: zap.NewNop()})
	require.NoError(t, r.RegisterProcessor("echo", func(ingest.PluginConfig, ingest.Emitter, Deps) (ingest.Processor, error) {
		return nopProcessor{}, nil
	}))
	require.NoError(t, r.RegisterPipeline("log", func(ingest.PluginConfig, Deps) (ingest.Pipeline, error) {
		return nopPipeline{}, nil
	}))

	cfg := ingest.PluginConfig{Class: "echo", Pipeline: "log"}
	p, err := r.NewProcessor(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
	sink, err := r.NewPipeline(cfg)
	require.NoError(t, err)
	assert.NotNil(t, sink)
	assert.Equal(t, []string{"echo"}, r.Processors())
	assert.Equal(t, []string{"log"}, r.Pipelines())
}

// TestRegistryErrors covers unknown, duplicate and failing factories.
func TestRegistryErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Deps{})
	_, err := r.NewProcessor(ingest.PluginConfig{Class: "missing"}, nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	_, err = r.NewPipeline(ingest.PluginConfig{Pipeline: "missing"})
	assert.ErrorIs(t, err, ErrUnknownPlugin)

	boom := errors.New("boom")
	require.NoError(t, r.RegisterPipeline("bad", func(ingest.PluginConfig, Deps) (ingest.Pipeline, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, r.RegisterPipeline("bad", nil), ErrDuplicatePlugin)
	_, err = r.NewPipeline(ingest.PluginConfig{Pipeline: "bad"})
	assert.ErrorIs(t, err, boom)
}

// TestCacheBuildsOncePerFingerprint ensures concurrent lookups share one instance.
func TestCacheBuildsOncePerFingerprint(t *testing.T) {
	t.Parallel()

	c := NewCache[*int]()
	var built atomic.Int32
	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get("fp", func() (*int, error) {
				built.Add(1)
				n := 1
				return &n, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), built.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}

	_, err := c.Get("bad", func() (*int, error) { return nil, errors.New("nope") })
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())
}
