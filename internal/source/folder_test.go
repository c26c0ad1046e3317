package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFolder_ListAndFetch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_invoice.json", `{"invoice_number":"INV-1","amount":335,"date":"2024-04-01"}`)
	writeFile(t, dir, "b_statement.csv", "\xEF\xBB\xBFDate,Description,Amount\n2024-04-02,Rent,-1200\n\n2024-04-03,Sale,500\n")
	writeFile(t, dir, "c_notes.txt", "Receipt total 42.00")
	writeFile(t, dir, "ignored.pdf", "%PDF")

	f, err := NewFolder("folder", dir)
	require.NoError(t, err)

	refs, err := f.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 4, "1 json + 2 csv rows + 1 txt")
	assert.Equal(t, "a_invoice.json#0", refs[0].Key)
	assert.Equal(t, "b_statement.csv#1", refs[2].Key)

	doc, err := f.Fetch(context.Background(), refs[2])
	require.NoError(t, err)
	assert.Equal(t, "b_statement.csv", doc.FileName)
	assert.Equal(t, "Sale", doc.Text("description"))
	assert.Equal(t, "500", doc.Text("Amount"))

	again, err := f.Fetch(context.Background(), refs[2])
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID, "document ids are stable")

	doc, err = f.Fetch(context.Background(), refs[0])
	require.NoError(t, err)
	assert.Equal(t, "335", doc.Text("amount"))

	doc, err = f.Fetch(context.Background(), refs[3])
	require.NoError(t, err)
	assert.Equal(t, "Receipt total 42.00", doc.Text("text"))
}

func TestFolder_XLSX(t *testing.T) {
	dir := t.TempDir()
	x := excelize.NewFile()
	require.NoError(t, x.SetSheetRow("Sheet1", "A1", &[]any{"Date", "Narration", "Amount"}))
	require.NoError(t, x.SetSheetRow("Sheet1", "A2", &[]any{"2024-04-05", "Bank charges", "15.50"}))
	require.NoError(t, x.SaveAs(filepath.Join(dir, "statement.xlsx")))
	require.NoError(t, x.Close())

	f, err := NewFolder("folder", dir)
	require.NoError(t, err)

	refs, err := f.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 1)

	doc, err := f.Fetch(context.Background(), refs[0])
	require.NoError(t, err)
	assert.Equal(t, "Bank charges", doc.Text("narration"))
	assert.Equal(t, "15.50", doc.Text("amount"))
}

func TestFolder_Ack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.json", `{"amount":1}`)

	f, err := NewFolder("folder", dir)
	require.NoError(t, err)
	reg := NewRegistry(f)

	refs, err := reg.ListAvailable(context.Background(), "folder")
	require.NoError(t, err)
	require.NoError(t, reg.Ack(context.Background(), refs))

	refs, err = reg.ListAvailable(context.Background(), "folder")
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "one.json"))
}

func TestRegistry_UnknownSource(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.ListAvailable(context.Background(), "whatsapp")
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = reg.Fetch(context.Background(), model.DocumentRef{SourceType: "email"})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestWatcher_ReportsNewFilesOnce(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder("folder", dir)
	require.NoError(t, err)
	reg := NewRegistry(f)

	var mu sync.Mutex
	var got []model.DocumentRef
	w := Watch(context.Background(), reg, "folder", 10*time.Millisecond, func(_ context.Context, refs []model.DocumentRef) error {
		mu.Lock()
		got = append(got, refs...)
		mu.Unlock()
		return nil
	})

	writeFile(t, dir, "late.json", `{"amount":5}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1, "seen refs are not reported again")
}

func TestWatcher_RetriesRejectedBatch(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder("folder", dir)
	require.NoError(t, err)
	reg := NewRegistry(f)
	writeFile(t, dir, "busy.json", `{"amount":5}`)

	var mu sync.Mutex
	calls := 0
	w := Watch(context.Background(), reg, "folder", 10*time.Millisecond, func(_ context.Context, refs []model.DocumentRef) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("busy")
		}
		return nil
	})
	defer w.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls, "accepted batch is not reported again")
}

func TestWatcher_RetriesOnlyUnhandledRefs(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder("folder", dir)
	require.NoError(t, err)
	reg := NewRegistry(f)
	writeFile(t, dir, "a.json", `{"amount":1}`)
	writeFile(t, dir, "b.json", `{"amount":2}`)

	var mu sync.Mutex
	var batches [][]string
	w := Watch(context.Background(), reg, "folder", 10*time.Millisecond, func(_ context.Context, refs []model.DocumentRef) error {
		mu.Lock()
		defer mu.Unlock()
		var names []string
		for _, r := range refs {
			names = append(names, r.Name)
		}
		batches = append(batches, names)
		if len(batches) == 1 {
			for _, r := range refs {
				if r.Name == "b.json" {
					return &UnhandledError{Refs: []model.DocumentRef{r}, Err: errors.New("fetch failed")}
				}
			}
		}
		return nil
	})
	defer w.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) >= 2
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.ElementsMatch(t, []string{"a.json", "b.json"}, batches[0])
	assert.Equal(t, []string{"b.json"}, batches[1], "only the unhandled ref is reported again")
}

func TestWatcher_ForgetsRefsThatLeaveTheListing(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder("folder", dir)
	require.NoError(t, err)
	reg := NewRegistry(f)

	mtime := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	put := func() {
		writeFile(t, dir, "doc.json", `{"amount":1}`)
		require.NoError(t, os.Chtimes(filepath.Join(dir, "doc.json"), mtime, mtime))
	}
	put()

	var mu sync.Mutex
	calls := 0
	w := Watch(context.Background(), reg, "folder", 10*time.Millisecond, func(context.Context, []model.DocumentRef) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})
	defer w.Close()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "doc.json")))
	time.Sleep(50 * time.Millisecond)
	put()

	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 10*time.Millisecond,
		"a ref that left the listing is new when it comes back")
}
