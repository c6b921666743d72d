package builtin

import (
	"context"

	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/plugin"
)

// Echo turns every message into a single result carrying the same fields.
type Echo struct {
	recordType string
}

// NewEcho is the ProcessorFactory for EchoID. extra.record_type labels the page.
func NewEcho(cfg ingest.PluginConfig, _ ingest.Emitter, _ plugin.Deps) (ingest.Processor, error) {
	return &Echo{recordType: cfg.ExtraString("record_type")}, nil
}

// ListPage returns one page holding a copy of msg.
func (e *Echo) ListPage(_ context.Context, msg *ingest.Record, _ int) (ingest.Page, error) {
	rec := msg.Clone()
	rec.ClearCheckpointRef()
	return ingest.Page{
		MaxPage:    1,
		Records:    []*ingest.Record{rec},
		RecordType: e.recordType,
	}, nil
}

// DetailPage is never called because Echo pages have no detail.
func (e *Echo) DetailPage(context.Context, *ingest.Record, *ingest.Record) (ingest.Signal, error) {
	return ingest.SignalContinue, nil
}
