package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/ingest"
	"github.com/JakeFAU/icrawler/internal/retry"
)

// markStride is the number of rows between mark saves. The saved mark lags
// by one stride so rows still waiting in the queue are replayed after a crash.
const markStride = 1000

// FileFetcher streams rows of the configured csv, txt or excel files. Each
// file keeps a mark of rows already handed over; a mark of -1 means the
// file is finished and is skipped on later passes.
type FileFetcher struct {
	cfg    ingest.PluginConfig
	fp     string
	store  checkpoint.Store
	opts   Options
	logger *zap.Logger
}

func newFileFetcher(cfg ingest.PluginConfig, store checkpoint.Store, opts Options, logger *zap.Logger) *FileFetcher {
	return &FileFetcher{cfg: cfg, fp: cfg.Fingerprint(), store: store, opts: opts, logger: logger}
}

// Fetch reads every configured file from its mark and pushes rows to out.
func (f *FileFetcher) Fetch(ctx context.Context, out Outlet) ([]*ingest.Record, error) {
	for _, m := range f.cfg.Messages {
		name, ok := m.(string)
		if !ok {
			f.logger.Error("invalid file entry", zap.Any("entry", m))
			continue
		}
		if _, err := os.Stat(name); err != nil {
			f.logger.Warn("source file not found", zap.String("file", name), zap.Error(err))
			continue
		}
		key := checkpoint.MarkKey(string(f.cfg.Source), name, f.fp)
		mark, err := f.loadMark(ctx, key)
		if err != nil {
			return nil, err
		}
		if mark == checkpoint.MarkConsumed {
			f.logger.Warn("source file has been finished", zap.String("file", name))
			continue
		}

		if f.cfg.Source == ingest.SourceExcel {
			err = f.readExcel(ctx, name, key, mark, out)
		} else {
			err = f.readLines(ctx, name, key, mark, out)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			f.logger.Error("read source file failed", zap.String("file", name), zap.Error(err))
		}
	}
	return nil, nil
}

func (f *FileFetcher) readLines(ctx context.Context, name, key string, mark int, out Outlet) error {
	file, err := os.Open(name) // #nosec G304 -- file list comes from operator configuration.
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer file.Close()

	reader, err := decodeReader(file, f.cfg.SourceEncode)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	count := 0
	for scanner.Scan() {
		count++
		if count <= mark {
			continue
		}
		rec := ingest.NewRecord()
		for i, v := range strings.Split(scanner.Text(), ",") {
			rec.Set(fmt.Sprintf("key%d", i), strings.TrimSpace(v))
		}
		if err := f.emit(ctx, key, count, rec, out); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", name, err)
	}
	return f.saveMark(ctx, key, checkpoint.MarkConsumed)
}

func (f *FileFetcher) readExcel(ctx context.Context, name, key string, mark int, out Outlet) error {
	book, err := excelize.OpenFile(name)
	if err != nil {
		return fmt.Errorf("open workbook %s: %w", name, err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil
	}
	rows, err := book.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	// Row indexes start at 0 and the mark starts at 0, so the header row
	// is never emitted.
	for i := 0; rows.Next(); i++ {
		if i <= mark {
			continue
		}
		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row %d: %w", i, err)
		}
		if len(cols) == 0 {
			continue
		}
		rec := ingest.NewRecord()
		for c, v := range cols {
			rec.Set(fmt.Sprintf("key%d", c), v)
		}
		if err := f.emit(ctx, key, i, rec, out); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("iterate sheet %s: %w", sheets[0], err)
	}
	return f.saveMark(ctx, key, checkpoint.MarkConsumed)
}

// emit pushes row n, saving a lagging mark every stride and while the
// queue is full.
func (f *FileFetcher) emit(ctx context.Context, key string, n int, rec *ingest.Record, out Outlet) error {
	for out.Full() {
		stored, err := f.loadMark(ctx, key)
		if err != nil {
			return err
		}
		if err := f.saveMark(ctx, key, max(n-markStride, stored)); err != nil {
			return err
		}
		if err := retry.Sleep(ctx, f.opts.MarkInterval); err != nil {
			return err
		}
	}
	if err := out.Push(ctx, rec); err != nil {
		return err
	}
	if n%markStride == 0 {
		f.logger.Info("source file progress", zap.Int("rows", n))
		return f.saveMark(ctx, key, max(0, n-markStride))
	}
	return nil
}

func (f *FileFetcher) loadMark(ctx context.Context, key string) (int, error) {
	var mark int
	if _, err := f.store.Read(ctx, key, &mark); err != nil {
		return 0, fmt.Errorf("read mark %s: %w", key, err)
	}
	return mark, nil
}

func (f *FileFetcher) saveMark(ctx context.Context, key string, mark int) error {
	if err := f.store.Write(ctx, key, mark); err != nil {
		return fmt.Errorf("save mark %s: %w", key, err)
	}
	return nil
}

func decodeReader(r io.Reader, name string) (io.Reader, error) {
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return r, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("source encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, errors.New("source encoding " + name + " is not supported")
	}
	return enc.NewDecoder().Reader(r), nil
}
