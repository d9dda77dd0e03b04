package artifact

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// ErrArtifactExists is returned when a write-once artifact is written twice.
var ErrArtifactExists = errors.New("artifact: already written")

type Format string

const (
	FormatJSON   Format = "json"
	FormatText   Format = "text"
	FormatBinary Format = "binary"
)

// Record describes one verified artifact on disk.
type Record struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Format    Format    `json:"format"`
	Bytes     int       `json:"bytes"`
	Digest    string    `json:"digest"`
	Version   int       `json:"version"`
	WrittenAt time.Time `json:"written_at"`
}

// Store writes run artifacts atomically and verifies every write by reading
// it back. Any verification failure is a CorruptionError.
type Store struct {
	root        string
	now         func() time.Time
	mutable     map[string]bool
	schemas     map[string]*jsonschema.Schema
	afterRename func(path string) error

	mu      sync.Mutex
	records map[string]Record
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for record timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// WithMutable names artifacts that may be overwritten. All others are write-once.
func WithMutable(names ...string) StoreOption {
	return func(s *Store) {
		for _, n := range names {
			s.mutable[n] = true
		}
	}
}

// WithSchema verifies the named JSON artifact against schema on every write.
func WithSchema(name string, schema *jsonschema.Schema) StoreOption {
	return func(s *Store) {
		if schema != nil {
			s.schemas[name] = schema
		}
	}
}

// WithAfterRename installs a hook that runs between the rename and the
// read-back verification.
func WithAfterRename(fn func(path string) error) StoreOption {
	return func(s *Store) {
		s.afterRename = fn
	}
}

func NewStore(root string, opts ...StoreOption) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifact: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		root:    root,
		now:     time.Now,
		mutable: map[string]bool{},
		schemas: map[string]*jsonschema.Schema{},
		records: map[string]Record{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Path(name string) string { return filepath.Join(s.root, name) }

func (s *Store) WriteJSON(name string, v any) (Record, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("artifact: encode %s: %w", name, err)
	}
	return s.write(name, append(b, '\n'), FormatJSON)
}

func (s *Store) WriteText(name string, text string) (Record, error) {
	if !utf8.ValidString(text) {
		return Record{}, fmt.Errorf("artifact: %s is not valid UTF-8", name)
	}
	return s.write(name, []byte(text), FormatText)
}

func (s *Store) WriteBytes(name string, b []byte) (Record, error) {
	return s.write(name, b, FormatBinary)
}

func (s *Store) Read(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return os.ReadFile(s.Path(name))
}

func (s *Store) ReadJSON(name string, v any) error {
	b, err := s.Read(name)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Records returns the artifacts written through this store, ordered by name.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns artifact names under the root matching a doublestar pattern.
func (s *Store) List(pattern string) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("artifact: invalid pattern %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(s.root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) write(name string, b []byte, format Format) (Record, error) {
	if err := checkName(name); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.records[name]
	if !s.mutable[name] {
		if seen {
			return Record{}, fmt.Errorf("%w: %s", ErrArtifactExists, name)
		}
		if _, err := os.Stat(s.Path(name)); err == nil {
			return Record{}, fmt.Errorf("%w: %s", ErrArtifactExists, name)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Record{}, err
		}
	}

	final := s.Path(name)
	if err := writeAtomic(final, b); err != nil {
		return Record{}, runtime.Corruption(err, "write %s: %v", name, err)
	}
	if s.afterRename != nil {
		if err := s.afterRename(final); err != nil {
			return Record{}, runtime.Corruption(err, "post-write hook for %s: %v", name, err)
		}
	}
	if err := s.verify(name, final, b, format); err != nil {
		return Record{}, err
	}

	rec := Record{
		Name:      name,
		Path:      final,
		Format:    format,
		Bytes:     len(b),
		Digest:    Digest(b),
		Version:   prev.Version + 1,
		WrittenAt: s.now().UTC(),
	}
	s.records[name] = rec
	return rec, nil
}

func (s *Store) verify(name, path string, want []byte, format Format) error {
	got, err := os.ReadFile(path)
	if err != nil {
		return runtime.Corruption(err, "read back %s: %v", name, err)
	}
	if len(got) != len(want) {
		return runtime.Corruption(nil, "%s length mismatch after write: got %d bytes want %d", name, len(got), len(want))
	}
	if Digest(got) != Digest(want) {
		return runtime.Corruption(nil, "%s digest mismatch after write", name)
	}
	switch format {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(got, &v); err != nil {
			return runtime.Corruption(err, "%s does not parse as JSON: %v", name, err)
		}
		if schema := s.schemas[name]; schema != nil {
			if err := schema.Validate(v); err != nil {
				return runtime.Corruption(err, "%s violates its schema: %v", name, err)
			}
		}
	case FormatText:
		if !utf8.Valid(got) {
			return runtime.Corruption(nil, "%s is not valid UTF-8 after write", name)
		}
		if utf8.RuneCount(got) != utf8.RuneCount(want) {
			return runtime.Corruption(nil, "%s character count mismatch after write", name)
		}
	}
	return nil
}

// writeAtomic writes b to a temp file in the destination directory, fsyncs it
// and renames it over path.
func writeAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func checkName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("artifact: invalid name %q", name)
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("artifact: name %q must not contain path separators", name)
	}
	return nil
}

// Digest returns the hex blake3 digest of b.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
