package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// FileStore persists each pattern as one JSON file under a base directory.
// Every id passes the allow-list first and every resulting path is
// canonicalized and checked to remain inside the base directory, so a
// crafted id can never reach the filesystem.
type FileStore struct {
	baseDir string // absolute, symlinks resolved
	logger  *zap.Logger
	now     func() time.Time
}

// NewFileStore creates the base directory if needed and resolves it to a
// canonical absolute path used for all containment checks.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern directory unavailable").WithCause(err)
	}
	resolved, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern directory unavailable").WithCause(err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern directory unavailable").WithCause(err)
	}
	return &FileStore{
		baseDir: abs,
		logger:  logger.With(zap.String("component", "pattern_file_store")),
		now:     time.Now,
	}, nil
}

// WithNow swaps the clock, for tests.
func (s *FileStore) WithNow(now func() time.Time) *FileStore {
	s.now = now
	return s
}

// pathFor validates the id and returns the contained file path.
func (s *FileStore) pathFor(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		s.logger.Warn("pattern id rejected", zap.Int("id_len", len(id)))
		return "", err
	}
	p := filepath.Join(s.baseDir, id+".json")
	// The allow-list already excludes separators; the containment check is
	// the backstop that holds even if the allow-list ever loosens.
	if !strings.HasPrefix(p, s.baseDir+string(filepath.Separator)) {
		return "", types.NewError(types.ErrSecurityViolation, "invalid pattern id")
	}
	return p, nil
}

func (s *FileStore) read(id string) (*types.SitePattern, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound()
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern read failed").WithCause(err)
	}
	var p types.SitePattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern file corrupt").WithCause(err)
	}
	return &p, nil
}

func (s *FileStore) write(p *types.SitePattern) error {
	path, err := s.pathFor(p.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return types.NewError(types.ErrInternal, "pattern encode failed").WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.NewError(types.ErrInternal, "pattern write failed").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return types.NewError(types.ErrInternal, "pattern write failed").WithCause(err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, domain, pageType string) (*types.SitePattern, error) {
	return s.read(types.PatternID(domain, pageType))
}

func (s *FileStore) Save(ctx context.Context, p *types.SitePattern) error {
	stored := clonePattern(p)
	if err := prepare(stored, s.now()); err != nil {
		return err
	}
	if err := s.write(stored); err != nil {
		return err
	}
	p.ID = stored.ID
	p.Domain = stored.Domain
	return nil
}

func (s *FileStore) UpdateStats(ctx context.Context, patternID string, success bool, duration time.Duration) error {
	p, err := s.read(patternID)
	if err != nil {
		return err
	}
	p.RecordUse(success, s.now())
	return s.write(p)
}

func (s *FileStore) List(ctx context.Context, domain string) ([]*types.SitePattern, error) {
	domain = types.NormalizeDomain(domain)
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern list failed").WithCause(err)
	}
	var out []*types.SitePattern
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		p, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("pattern file skipped", zap.String("file", name), zap.Error(err))
			continue
		}
		if domain != "" && p.Domain != domain {
			continue
		}
		out = append(out, p)
	}
	sortPatterns(out)
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, domain, pageType string) error {
	path, err := s.pathFor(types.PatternID(domain, pageType))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.NewError(types.ErrInternal, "pattern delete failed").WithCause(err)
	}
	return nil
}

func (s *FileStore) Export(ctx context.Context) ([]byte, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(all)
}

func (s *FileStore) Import(ctx context.Context, data []byte) (int, error) {
	patterns, err := decodeExport(data)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range patterns {
		if err := s.Save(ctx, p); err != nil {
			s.logger.Warn("pattern import entry skipped", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (s *FileStore) Close() error { return nil }
