package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/checkpoint"
	"github.com/JakeFAU/icrawler/internal/checkpoint/memory"
	"github.com/JakeFAU/icrawler/internal/ingest"
)

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "row%d, v%d \n", i, i)
	}
	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func csvConfig(path string) ingest.PluginConfig {
	return ingest.PluginConfig{Class: "c", Pipeline: "p", Source: ingest.SourceCSV, Messages: []any{path}}
}

func readMark(t *testing.T, store checkpoint.Store, key string) int {
	t.Helper()
	var mark int
	found, err := store.Read(context.Background(), key, &mark)
	require.NoError(t, err)
	require.True(t, found, "mark %s missing", key)
	return mark
}

// TestFileFetcherCSVMarks ensures rows are split into keyN fields and the mark lags by one stride.
func TestFileFetcherCSVMarks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := writeCSV(t, 2500)
	cfg := csvConfig(path)
	store := memory.NewStore()
	key := checkpoint.MarkKey("csv", path, cfg.Fingerprint())

	marks := map[int]int{}
	out := &recordingOutlet{}
	out.onPush = func(n int) {
		if n == 1001 || n == 2001 {
			marks[n] = readMark(t, store, key)
		}
	}
	f := newFileFetcher(cfg, store, fastOptions(), zap.NewNop())
	batch, err := f.Fetch(ctx, out)
	require.NoError(t, err)
	assert.Empty(t, batch)

	msgs := out.messages()
	require.Len(t, msgs, 2500)
	assert.Equal(t, []string{"key0", "key1"}, msgs[0].Keys())
	assert.Equal(t, "row1", msgs[0].String("key0"))
	assert.Equal(t, "v1", msgs[0].String("key1"))
	assert.Equal(t, map[int]int{1001: 0, 2001: 1000}, marks)
	assert.Equal(t, checkpoint.MarkConsumed, readMark(t, store, key))

	// A finished file is skipped on the next pass.
	again := &recordingOutlet{}
	_, err = f.Fetch(ctx, again)
	require.NoError(t, err)
	assert.Empty(t, again.messages())
}

// TestFileFetcherCSVResumeAfterCrash ensures a restart resumes within one stride of the crash point.
func TestFileFetcherCSVResumeAfterCrash(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, 2500)
	cfg := csvConfig(path)
	store := memory.NewStore()
	key := checkpoint.MarkKey("csv", path, cfg.Fingerprint())

	// First process: the queue saturates after row 1200 and the process dies
	// while waiting for room.
	ctx, cancel := context.WithCancel(context.Background())
	crashed := &recordingOutlet{}
	crashed.full = func() bool {
		if len(crashed.messages()) >= 1200 {
			cancel()
			return true
		}
		return false
	}
	_, err := newFileFetcher(cfg, store, fastOptions(), zap.NewNop()).Fetch(ctx, crashed)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, crashed.messages(), 1200)

	mark := readMark(t, store, key)
	assert.GreaterOrEqual(t, mark, 1200-1000)
	assert.LessOrEqual(t, mark, 1200)

	// Second process: resumes right after the mark and finishes the file.
	resumed := &recordingOutlet{}
	_, err = newFileFetcher(cfg, store, fastOptions(), zap.NewNop()).Fetch(context.Background(), resumed)
	require.NoError(t, err)
	msgs := resumed.messages()
	require.Len(t, msgs, 2500-mark)
	assert.Equal(t, fmt.Sprintf("row%d", mark+1), msgs[0].String("key0"))
	assert.Equal(t, "row2500", msgs[len(msgs)-1].String("key0"))
	assert.Equal(t, checkpoint.MarkConsumed, readMark(t, store, key))
}

// TestFileFetcherSkipsMissingFiles ensures absent files do not fail the pass.
func TestFileFetcherSkipsMissingFiles(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, 2)
	cfg := csvConfig(path)
	cfg.Messages = append([]any{filepath.Join(t.TempDir(), "gone.csv"), 42}, cfg.Messages...)
	out := &recordingOutlet{}
	_, err := newFileFetcher(cfg, memory.NewStore(), fastOptions(), zap.NewNop()).Fetch(context.Background(), out)
	require.NoError(t, err)
	assert.Len(t, out.messages(), 2)
}

// TestFileFetcherDecodesEncoding ensures non-UTF-8 files are transcoded.
func TestFileFetcherDecodesEncoding(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "latin.txt")
	// "café,crème" in ISO-8859-1.
	require.NoError(t, os.WriteFile(path, []byte{'c', 'a', 'f', 0xe9, ',', 'c', 'r', 0xe8, 'm', 'e', '\n'}, 0o600))
	cfg := ingest.PluginConfig{Class: "c", Pipeline: "p", Source: ingest.SourceTXT, Messages: []any{path}, SourceEncode: "ISO-8859-1"}
	out := &recordingOutlet{}
	_, err := newFileFetcher(cfg, memory.NewStore(), fastOptions(), zap.NewNop()).Fetch(context.Background(), out)
	require.NoError(t, err)
	msgs := out.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "café", msgs[0].String("key0"))
	assert.Equal(t, "crème", msgs[0].String("key1"))
}

// TestFileFetcherExcelSkipsHeader ensures the first sheet is read without its header row.
func TestFileFetcherExcelSkipsHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "leads.xlsx")
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"company", "city"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"Acme", "Paris"}))
	require.NoError(t, book.SetSheetRow(sheet, "A3", &[]any{"Globex", "Lyon"}))
	require.NoError(t, book.SaveAs(path))
	require.NoError(t, book.Close())

	cfg := ingest.PluginConfig{Class: "c", Pipeline: "p", Source: ingest.SourceExcel, Messages: []any{path}}
	store := memory.NewStore()
	out := &recordingOutlet{}
	_, err := newFileFetcher(cfg, store, fastOptions(), zap.NewNop()).Fetch(context.Background(), out)
	require.NoError(t, err)

	msgs := out.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Acme", msgs[0].String("key0"))
	assert.Equal(t, "Lyon", msgs[1].String("key1"))
	assert.Equal(t, checkpoint.MarkConsumed, readMark(t, store, checkpoint.MarkKey("excel", path, cfg.Fingerprint())))
}
