package docstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// maxLine bounds one JSONL line. Records with large object fields exceed the
// scanner default.
const maxLine = 16 << 20

// ReadJSONL decodes one document per non-empty line of r. Malformed lines
// are skipped and counted.
func ReadJSONL(r io.Reader) ([]types.Document, int, error) {
	var (
		docs    []types.Document
		skipped int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc types.Document
		if err := json.Unmarshal(line, &doc); err != nil || doc == nil {
			skipped++
			continue
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scanning jsonl: %w", err)
	}
	return docs, skipped, nil
}

// WriteJSONL encodes docs to w, one per line.
func WriteJSONL(w io.Writer, docs []types.Document) error {
	bw := bufio.NewWriter(w)
	for _, doc := range docs {
		line, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding document: %w", err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("writing document: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	return bw.Flush()
}

// WriteFileAtomic replaces path with what write produces, using the
// temp-file, fsync, rename pattern. On failure path is left untouched.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
