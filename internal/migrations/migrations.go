package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/identity/internal/models"
)

type StepKind int

const (
	CreateTable StepKind = iota + 1
	DropTable
	AddColumn
	DropColumn
)

func (k StepKind) String() string {
	switch k {
	case CreateTable:
		return "create_table"
	case DropTable:
		return "drop_table"
	case AddColumn:
		return "add_column"
	case DropColumn:
		return "drop_column"
	default:
		return "unknown"
	}
}

// Step is one schema change. Field is the Go field name for column steps.
type Step struct {
	Kind  StepKind
	Model any
	Field string
}

type Migration struct {
	Version int
	Name    string
	Up      []Step
	Down    []Step
}

func createTables(ms ...any) []Step {
	out := make([]Step, 0, len(ms))
	for _, m := range ms {
		out = append(out, Step{Kind: CreateTable, Model: m})
	}
	return out
}

func dropTables(ms ...any) []Step {
	out := make([]Step, 0, len(ms))
	for i := len(ms) - 1; i >= 0; i-- {
		out = append(out, Step{Kind: DropTable, Model: ms[i]})
	}
	return out
}

// All returns the migration log in version order.
func All() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "initial_schema",
			Up:      createTables(initialTables...),
			Down:    dropTables(initialTables...),
		},
		{
			Version: 2,
			Name:    "user_display_name",
			Up:      []Step{{Kind: AddColumn, Model: &models.User{}, Field: "DisplayName"}},
			Down:    []Step{{Kind: DropColumn, Model: &models.User{}, Field: "DisplayName"}},
		},
		{
			Version: 3,
			Name:    "authorization_subject_type",
			Up:      []Step{{Kind: AddColumn, Model: &models.Authorization{}, Field: "SubjectType"}},
			Down:    []Step{{Kind: DropColumn, Model: &models.Authorization{}, Field: "SubjectType"}},
		},
	}
}

type schemaMigration struct {
	Version   int    `gorm:"primaryKey;autoIncrement:false"`
	Name      string `gorm:"size:128;not null"`
	AppliedAt time.Time
}

func (schemaMigration) TableName() string {
	return "schema_migrations"
}

type Status struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

type Runner struct {
	DB     *gorm.DB
	Log    []Migration
	Logger *slog.Logger
}

func NewRunner(db *gorm.DB, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{DB: db, Log: All(), Logger: logger}
}

func (r *Runner) applied(ctx context.Context) (map[int]schemaMigration, error) {
	db := r.DB.WithContext(ctx)
	if err := db.Migrator().AutoMigrate(&schemaMigration{}); err != nil {
		return nil, fmt.Errorf("prepare schema_migrations: %w", err)
	}
	var rows []schemaMigration
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	out := make(map[int]schemaMigration, len(rows))
	for _, row := range rows {
		out[row.Version] = row
	}
	return out, nil
}

func (r *Runner) sorted() []Migration {
	log := append([]Migration(nil), r.Log...)
	sort.Slice(log, func(i, j int) bool { return log[i].Version < log[j].Version })
	return log
}

// Up applies every pending migration up to target. A target of 0 means the
// latest version. It returns the versions applied.
func (r *Runner) Up(ctx context.Context, target int) ([]int, error) {
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, m := range r.sorted() {
		if target > 0 && m.Version > target {
			break
		}
		if _, ok := done[m.Version]; ok {
			continue
		}
		m := m
		err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := runSteps(tx.Migrator(), m.Up); err != nil {
				return err
			}
			return tx.Create(&schemaMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			r.Logger.Error("migration_failed", "version", m.Version, "name", m.Name, "direction", "up", "error", err)
			return ran, fmt.Errorf("migration %d %s: %w", m.Version, m.Name, err)
		}
		r.Logger.Info("migration_applied", "version", m.Version, "name", m.Name)
		ran = append(ran, m.Version)
	}
	return ran, nil
}

// Down rolls back every applied migration with a version above target,
// newest first. It returns the versions rolled back.
func (r *Runner) Down(ctx context.Context, target int) ([]int, error) {
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	log := r.sorted()
	var ran []int
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		if m.Version <= target {
			break
		}
		if _, ok := done[m.Version]; !ok {
			continue
		}
		err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := runSteps(tx.Migrator(), m.Down); err != nil {
				return err
			}
			return tx.Delete(&schemaMigration{}, m.Version).Error
		})
		if err != nil {
			r.Logger.Error("migration_failed", "version", m.Version, "name", m.Name, "direction", "down", "error", err)
			return ran, fmt.Errorf("rollback %d %s: %w", m.Version, m.Name, err)
		}
		r.Logger.Info("migration_rolled_back", "version", m.Version, "name", m.Name)
		ran = append(ran, m.Version)
	}
	return ran, nil
}

func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	log := r.sorted()
	out := make([]Status, 0, len(log))
	for _, m := range log {
		st := Status{Version: m.Version, Name: m.Name}
		if row, ok := done[m.Version]; ok {
			at := row.AppliedAt
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// Current is the highest applied version, 0 for an empty database.
func (r *Runner) Current(ctx context.Context) (int, error) {
	done, err := r.applied(ctx)
	if err != nil {
		return 0, err
	}
	cur := 0
	for v := range done {
		if v > cur {
			cur = v
		}
	}
	return cur, nil
}

func runSteps(m gorm.Migrator, steps []Step) error {
	for _, s := range steps {
		if err := s.apply(m); err != nil {
			return fmt.Errorf("%s %T: %w", s.Kind, s.Model, err)
		}
	}
	return nil
}

func (s Step) apply(m gorm.Migrator) error {
	switch s.Kind {
	case CreateTable:
		if m.HasTable(s.Model) {
			return nil
		}
		return m.CreateTable(s.Model)
	case DropTable:
		if !m.HasTable(s.Model) {
			return nil
		}
		return m.DropTable(s.Model)
	case AddColumn:
		if m.HasColumn(s.Model, s.Field) {
			return nil
		}
		return m.AddColumn(s.Model, s.Field)
	case DropColumn:
		if !m.HasColumn(s.Model, s.Field) {
			return nil
		}
		return m.DropColumn(s.Model, s.Field)
	default:
		return fmt.Errorf("unknown step kind %d", s.Kind)
	}
}
