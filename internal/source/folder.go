package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// ProcessedDir is the sub-directory acknowledged files are moved into.
const ProcessedDir = "processed"

// Folder reads documents from files in a local directory (non-recursive).
type Folder struct {
	typ string
	dir string
}

// NewFolder returns a folder source of the given type rooted at dir.
func NewFolder(sourceType, dir string) (*Folder, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("folder source %s: %w", sourceType, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("folder source %s: %s is not a directory", sourceType, dir)
	}
	return &Folder{typ: sourceType, dir: dir}, nil
}

func (f *Folder) Type() string { return f.typ }

// ListAvailable returns one ref per record in every supported file, sorted by
// file name then record index.
func (f *Folder) ListAvailable(ctx context.Context) ([]model.DocumentRef, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var refs []model.DocumentRef
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		records, err := f.read(e.Name())
		if err != nil {
			return nil, err
		}
		for i := range records {
			refs = append(refs, model.DocumentRef{
				SourceType: f.typ,
				Key:        recordKey(e.Name(), i),
				Name:       e.Name(),
				Size:       info.Size(),
				ModifiedAt: info.ModTime(),
			})
		}
	}
	return refs, nil
}

// Fetch reads the referenced record.
func (f *Folder) Fetch(ctx context.Context, ref model.DocumentRef) (model.Document, error) {
	if err := ctx.Err(); err != nil {
		return model.Document{}, err
	}
	name, index, err := splitKey(ref.Key)
	if err != nil {
		return model.Document{}, err
	}
	records, err := f.read(name)
	if err != nil {
		return model.Document{}, err
	}
	if index < 0 || index >= len(records) {
		return model.Document{}, fmt.Errorf("record %d out of range in %s", index, name)
	}

	return model.Document{
		ID:         documentID(f.typ, ref.Key, ref.ModifiedAt),
		SourceType: f.typ,
		FileName:   name,
		RawPayload: records[index],
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Ack moves the files behind refs into the processed sub-directory.
func (f *Folder) Ack(_ context.Context, refs []model.DocumentRef) error {
	done := filepath.Join(f.dir, ProcessedDir)
	if err := os.MkdirAll(done, 0o755); err != nil {
		return err
	}

	moved := make(map[string]bool)
	for _, ref := range refs {
		name, _, err := splitKey(ref.Key)
		if err != nil || moved[name] {
			continue
		}
		moved[name] = true
		if err := os.Rename(filepath.Join(f.dir, name), filepath.Join(done, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("move %s: %w", name, err)
		}
	}
	return nil
}

func (f *Folder) read(name string) ([]map[string]any, error) {
	file, err := os.Open(filepath.Join(f.dir, filepath.Base(name)))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseRecords(name, file)
}
