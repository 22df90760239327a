package ledger

import (
	"context"
	"fmt"
	"time"
)

// ImportSourceState is the processing state of an import source.
type ImportSourceState string

const (
	ImportSourceNew        ImportSourceState = "new"
	ImportSourceProcessing ImportSourceState = "processing"
	ImportSourceProcessed  ImportSourceState = "processed"
	ImportSourceFailed     ImportSourceState = "failed"
)

// ImportSource is a batch of externally observed raw transactions, such as
// one uploaded bank statement. Reference points at the raw content, which
// the engine does not store itself.
//
// States move New -> Processing -> Processed or Failed. A Failed source may
// be picked up again; a Processed one only with an explicit force.
type ImportSource struct {
	ID        uint              `gorm:"primaryKey"`
	Reference string            `gorm:"column:reference;type:varchar(500);not null"`
	State     ImportSourceState `gorm:"column:state;type:varchar(20);not null;default:new;index"`
	LastError string            `gorm:"column:last_error;type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ImportSource) TableName() string {
	return "import_sources"
}

func (s *Store) CreateImportSource(ctx context.Context, reference string) (*ImportSource, error) {
	source := &ImportSource{Reference: reference, State: ImportSourceNew}
	if err := s.db.WithContext(ctx).Create(source).Error; err != nil {
		return nil, err
	}
	s.logger.Debug("import source created", "source", source.ID, "reference", reference)
	return source, nil
}

func (s *Store) GetImportSource(ctx context.Context, id uint) (*ImportSource, error) {
	var source ImportSource
	if err := s.db.WithContext(ctx).First(&source, id).Error; err != nil {
		return nil, notFound(err, "import source %d", id)
	}
	return &source, nil
}

// ListImportSources returns sources, optionally of one state, oldest first.
func (s *Store) ListImportSources(ctx context.Context, state *ImportSourceState) ([]ImportSource, error) {
	q := s.db.WithContext(ctx).Order("id")
	if state != nil {
		q = q.Where("state = ?", *state)
	}

	var sources []ImportSource
	if err := q.Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

// CountImportSources counts sources per state.
func (s *Store) CountImportSources(ctx context.Context) (map[ImportSourceState]int64, error) {
	var rows []struct {
		State ImportSourceState
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&ImportSource{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[ImportSourceState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// MarkProcessing claims a source for processing. New and Failed sources can
// be claimed; a Processed source fails with ErrAlreadyProcessed unless force
// is set. A source already in Processing cannot be claimed twice.
func (s *Store) MarkProcessing(ctx context.Context, id uint, force bool) (*ImportSource, error) {
	from := []ImportSourceState{ImportSourceNew, ImportSourceFailed}
	if force {
		from = append(from, ImportSourceProcessed)
	}
	if err := s.transition(ctx, id, from, ImportSourceProcessing, ""); err != nil {
		return nil, err
	}
	if force {
		s.logger.Warn("import source claimed with force", "source", id)
	}
	return s.GetImportSource(ctx, id)
}

func (s *Store) MarkProcessed(ctx context.Context, id uint) error {
	return s.transition(ctx, id, []ImportSourceState{ImportSourceProcessing}, ImportSourceProcessed, "")
}

func (s *Store) MarkFailed(ctx context.Context, id uint, reason string) error {
	return s.transition(ctx, id, []ImportSourceState{ImportSourceProcessing}, ImportSourceFailed, reason)
}

// transition moves a source to state `to` only if it currently is in one of
// `from`. The check and the write are a single conditional UPDATE, so two
// concurrent claims cannot both win.
func (s *Store) transition(ctx context.Context, id uint, from []ImportSourceState, to ImportSourceState, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&ImportSource{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(map[string]any{
			"state":      to,
			"last_error": reason,
			"updated_at": s.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		s.logger.Info("import source state changed", "source", id, "state", to)
		return nil
	}

	current, err := s.GetImportSource(ctx, id)
	if err != nil {
		return err
	}
	if current.State == ImportSourceProcessed && to == ImportSourceProcessing {
		return fmt.Errorf("%w: source %d", ErrAlreadyProcessed, id)
	}
	return fmt.Errorf("%w: source %d from %s to %s", ErrInvalidStateTransition, id, current.State, to)
}
