package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/siteflow/types"
)

// patternRecord is the gorm row shape. Nested maps are stored as JSON text
// so the table stays flat and portable.
type patternRecord struct {
	ID          string    `gorm:"primaryKey;size:128"`
	Domain      string    `gorm:"index;size:255"`
	PageType    string    `gorm:"size:255"`
	Elements    string    `gorm:"type:text"`
	FormFields  string    `gorm:"type:text"`
	Flows       string    `gorm:"type:text"`
	SuccessRate float64
	TotalUses   int
	LastUsedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (patternRecord) TableName() string { return "site_patterns" }

// SQLiteStore is the durable single-node backend over an embedded database.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database file and migrates the
// schema. Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern database unavailable").WithCause(err)
	}
	if err := db.AutoMigrate(&patternRecord{}); err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern schema migration failed").WithCause(err)
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "pattern_sqlite_store")),
		now:    time.Now,
	}, nil
}

// WithNow swaps the clock, for tests.
func (s *SQLiteStore) WithNow(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

func toRecord(p *types.SitePattern) (*patternRecord, error) {
	elements, err := json.Marshal(p.Elements)
	if err != nil {
		return nil, err
	}
	fields, err := json.Marshal(p.FormFields)
	if err != nil {
		return nil, err
	}
	flows, err := json.Marshal(p.Flows)
	if err != nil {
		return nil, err
	}
	return &patternRecord{
		ID:          p.ID,
		Domain:      p.Domain,
		PageType:    p.PageType,
		Elements:    string(elements),
		FormFields:  string(fields),
		Flows:       string(flows),
		SuccessRate: p.SuccessRate,
		TotalUses:   p.TotalUses,
		LastUsedAt:  p.LastUsedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func fromRecord(r *patternRecord) (*types.SitePattern, error) {
	p := &types.SitePattern{
		ID:          r.ID,
		Domain:      r.Domain,
		PageType:    r.PageType,
		SuccessRate: r.SuccessRate,
		TotalUses:   r.TotalUses,
		LastUsedAt:  r.LastUsedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Elements != "" {
		if err := json.Unmarshal([]byte(r.Elements), &p.Elements); err != nil {
			return nil, err
		}
	}
	if r.FormFields != "" {
		if err := json.Unmarshal([]byte(r.FormFields), &p.FormFields); err != nil {
			return nil, err
		}
	}
	if r.Flows != "" {
		if err := json.Unmarshal([]byte(r.Flows), &p.Flows); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*types.SitePattern, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var r patternRecord
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern read failed").WithCause(err)
	}
	p, err := fromRecord(&r)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern row corrupt").WithCause(err)
	}
	return p, nil
}

func (s *SQLiteStore) put(ctx context.Context, p *types.SitePattern) error {
	r, err := toRecord(p)
	if err != nil {
		return types.NewError(types.ErrInternal, "pattern encode failed").WithCause(err)
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(r).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "pattern write failed").WithCause(err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, domain, pageType string) (*types.SitePattern, error) {
	return s.get(ctx, types.PatternID(domain, pageType))
}

func (s *SQLiteStore) Save(ctx context.Context, p *types.SitePattern) error {
	stored := clonePattern(p)
	if err := prepare(stored, s.now()); err != nil {
		return err
	}
	if err := s.put(ctx, stored); err != nil {
		return err
	}
	p.ID = stored.ID
	p.Domain = stored.Domain
	return nil
}

func (s *SQLiteStore) UpdateStats(ctx context.Context, patternID string, success bool, duration time.Duration) error {
	p, err := s.get(ctx, patternID)
	if err != nil {
		return err
	}
	p.RecordUse(success, s.now())
	return s.put(ctx, p)
}

func (s *SQLiteStore) List(ctx context.Context, domain string) ([]*types.SitePattern, error) {
	domain = types.NormalizeDomain(domain)
	q := s.db.WithContext(ctx).Model(&patternRecord{})
	if domain != "" {
		q = q.Where("domain = ?", domain)
	}
	var rows []patternRecord
	if err := q.Order("domain, page_type").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern list failed").WithCause(err)
	}
	out := make([]*types.SitePattern, 0, len(rows))
	for i := range rows {
		p, err := fromRecord(&rows[i])
		if err != nil {
			s.logger.Warn("pattern row skipped", zap.String("pattern_id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, domain, pageType string) error {
	id := types.PatternID(domain, pageType)
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&patternRecord{}, "id = ?", id).Error; err != nil {
		return types.NewError(types.ErrInternal, "pattern delete failed").WithCause(err)
	}
	return nil
}

func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(all)
}

func (s *SQLiteStore) Import(ctx context.Context, data []byte) (int, error) {
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

func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
