package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/icrawler/internal/fetcher/colly"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/plugin"
	"github.com/JakeFAU/icrawler/internal/policy/ratelimit"
)

// ErrMissingField is returned when a URL template names a field the message lacks.
var ErrMissingField = errors.New("template field missing from message")

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

type getter interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// JSONList pages through a JSON HTTP API. Each list page is a document whose
// records live at records_path; the page count is read from max_page_path.
type JSONList struct {
	urlTemplate string
	recordsPath string
	maxPagePath string
	detailField string
	detailPath  string
	recordType  string
	untilEmpty  bool
	client      getter
	emit        ingest.Emitter
	logger      *zap.Logger
}

// NewJSONList is the ProcessorFactory for JSONListID.
func NewJSONList(cfg ingest.PluginConfig, emit ingest.Emitter, deps plugin.Deps) (ingest.Processor, error) {
	tmpl := cfg.ExtraString("url_template")
	if tmpl == "" {
		return nil, fmt.Errorf("%w: extra.url_template is required", ingest.ErrInvalidConfig)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.ExtraFloat("rps", 0),
		DefaultBurst: cfg.ExtraInt("burst", 1),
	})
	client := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.ExtraString("user_agent"),
		Timeout:   time.Duration(cfg.ExtraInt("timeout_seconds", 30)) * time.Second,
	}, limiter)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONList{
		urlTemplate: tmpl,
		recordsPath: cfg.ExtraString("records_path"),
		maxPagePath: cfg.ExtraString("max_page_path"),
		detailField: cfg.ExtraString("detail_url_field"),
		detailPath:  cfg.ExtraString("detail_path"),
		recordType:  cfg.ExtraString("record_type"),
		untilEmpty:  cfg.ExtraBool("until_empty", false),
		client:      client,
		emit:        emit,
		logger:      logger,
	}, nil
}

// ListPage fetches one page and decodes its records.
func (p *JSONList) ListPage(ctx context.Context, msg *ingest.Record, page int) (ingest.Page, error) {
	target, err := FillTemplate(p.urlTemplate, msg, page)
	if err != nil {
		return ingest.Page{}, err
	}
	doc, err := p.get(ctx, target)
	if err != nil {
		return ingest.Page{}, err
	}

	rawList, err := lookup(doc, p.recordsPath)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("records at %q: %w", p.recordsPath, err)
	}
	var items []json.RawMessage
	if len(rawList) > 0 && string(rawList) != "null" {
		if err := json.Unmarshal(rawList, &items); err != nil {
			return ingest.Page{}, fmt.Errorf("records at %q are not a list: %w", p.recordsPath, err)
		}
	}
	records := make([]*ingest.Record, 0, len(items))
	for i, item := range items {
		rec := ingest.NewRecord()
		if err := rec.UnmarshalJSON(item); err != nil {
			p.logger.Warn("skipping malformed record", zap.String("url", target), zap.Int("index", i), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	maxPage := 1
	switch {
	case p.maxPagePath != "":
		raw, err := lookup(doc, p.maxPagePath)
		if err != nil {
			return ingest.Page{}, fmt.Errorf("max page at %q: %w", p.maxPagePath, err)
		}
		if maxPage, err = parsePageCount(raw); err != nil {
			return ingest.Page{}, fmt.Errorf("max page at %q: %w", p.maxPagePath, err)
		}
	case p.untilEmpty && len(records) > 0:
		maxPage = page + 1
	}

	return ingest.Page{
		MaxPage:    maxPage,
		Records:    records,
		RecordType: p.recordType,
		HasDetail:  p.detailField != "",
	}, nil
}

// DetailPage fetches the record's detail URL, merges the detail fields over
// the listing fields and emits the merged result.
func (p *JSONList) DetailPage(ctx context.Context, msg *ingest.Record, record *ingest.Record) (ingest.Signal, error) {
	target := record.String(p.detailField)
	if target == "" {
		return ingest.SignalContinue, fmt.Errorf("%w: %s", ErrMissingField, p.detailField)
	}
	doc, err := p.get(ctx, target)
	if err != nil {
		return ingest.SignalContinue, err
	}
	raw, err := lookup(doc, p.detailPath)
	if err != nil {
		return ingest.SignalContinue, fmt.Errorf("detail at %q: %w", p.detailPath, err)
	}
	detail := ingest.NewRecord()
	if err := detail.UnmarshalJSON(raw); err != nil {
		return ingest.SignalContinue, fmt.Errorf("decode detail %s: %w", target, err)
	}

	merged := record.Clone()
	for _, k := range detail.Keys() {
		v, _ := detail.Get(k)
		merged.Set(k, v)
	}
	if err := p.emit.EmitResult(ctx, msg, merged); err != nil {
		return ingest.SignalContinue, fmt.Errorf("emit detail result: %w", err)
	}
	return ingest.SignalContinue, nil
}

func (p *JSONList) get(ctx context.Context, target string) ([]byte, error) {
	resp, err := p.client.Fetch(ctx, collyfetcher.Request{URL: target})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	return resp.Body, nil
}

// FillTemplate replaces {page} with page and every other {field} with the
// query-escaped value of that message field.
func FillTemplate(tmpl string, msg *ingest.Record, page int) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "page" {
			return strconv.Itoa(page)
		}
		v, ok := msg.Get(name)
		if !ok || v == nil {
			missing = append(missing, name)
			return m
		}
		return url.QueryEscape(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return out, nil
}

// lookup walks a dotted path of object keys. An empty path is the document.
func lookup(doc []byte, path string) (json.RawMessage, error) {
	raw := json.RawMessage(doc)
	if path == "" {
		return raw, nil
	}
	for _, key := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%q is not inside an object: %w", key, err)
		}
		next, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		raw = next
	}
	return raw, nil
}

func parsePageCount(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode page count: %w", err)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("parse page count %q: %w", n, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unexpected page count %v", v)
	}
}
