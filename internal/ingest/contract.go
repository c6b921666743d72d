package ingest

import (
	"context"
	"time"
)

// Signal tells the pagination driver whether to keep going.
type Signal int

const (
	// SignalContinue lets the driver move to the next page.
	SignalContinue Signal = iota
	// SignalBreak ends pagination after the current page.
	SignalBreak
)

// Page is the outcome of one list-page call.
type Page struct {
	MaxPage    int
	Records    []*Record
	RecordType string
	HasDetail  bool
	Signal     Signal
}

// Processor is a site-specific extraction plugin. A single instance serves
// every message of its config and must be safe for concurrent use.
type Processor interface {
	ListPage(ctx context.Context, msg *Record, page int) (Page, error)
	DetailPage(ctx context.Context, msg *Record, record *Record) (Signal, error)
}

// Pipeline is a site-specific sink plugin.
type Pipeline interface {
	Process(ctx context.Context, cfg PluginConfig, result *Record, msg *Record) error
}

// Emitter is handed to processors so they can push results downstream or
// schedule follow-up messages for their own config.
type Emitter interface {
	EmitResult(ctx context.Context, msg *Record, result *Record) error
	EmitMessage(ctx context.Context, msg *Record) error
}

// Clock abstracts time for run windows and date-driven sources.
type Clock interface {
	Now() time.Time
}
