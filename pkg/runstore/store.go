package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a run or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a run or job whose key is
	// already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidJob is returned when a job's status and outcome disagree.
	ErrInvalidJob = errors.New("invalid job")
)

// RunFilter narrows ListRuns. Zero values disable a filter.
type RunFilter struct {
	Branch string
	Suite  string
	Limit  int
	Offset int
}

// Store provides persistence for runs and their jobs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, name string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	DeleteRun(ctx context.Context, name string) error
	ListBranches(ctx context.Context) ([]string, error)
	ListSuites(ctx context.Context) ([]string, error)

	CreateJob(ctx context.Context, runName string, job *Job) error
	GetJob(ctx context.Context, runName, jobID string) (*Job, error)
	ListJobs(ctx context.Context, runName, status string) ([]Job, error)
	UpdateJob(ctx context.Context, job *Job) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "runstore"),
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	// SQLite serializes writers anyway, and an in-memory database only
	// exists on the connection that created it.
	if s.cfg.Driver == config.DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&Job{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Runs ---

// CreateRun inserts a new run. The run name must be unused.
func (s *store) CreateRun(ctx context.Context, run *Run) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Run{}).
			Where("name = ?", run.Name).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking run name: %w", err)
		}

		if count > 0 {
			return fmt.Errorf("run %q: %w", run.Name, ErrAlreadyExists)
		}

		if err := tx.Create(run).Error; err != nil {
			return duplicate("run", run.Name, err)
		}

		return nil
	})
}

// GetRun returns a run with its jobs loaded in ID order.
func (s *store) GetRun(ctx context.Context, name string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Preload("Jobs", orderByID).
		Where("name = ?", name).
		First(&run).Error; err != nil {
		return nil, notFound("run", name, err)
	}

	return &run, nil
}

// ListRuns returns runs ordered by scheduled time, newest first.
func (s *store) ListRuns(
	ctx context.Context, filter RunFilter,
) ([]Run, error) {
	q := s.db.WithContext(ctx).Preload("Jobs", orderByID)

	if filter.Branch != "" {
		q = q.Where("branch = ?", filter.Branch)
	}

	if filter.Suite != "" {
		q = q.Where("suite = ?", filter.Suite)
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var runs []Run
	if err := q.Order("scheduled DESC").Order("id DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes a run and all of its jobs.
func (s *store) DeleteRun(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run Run
		if err := tx.Where("name = ?", name).First(&run).Error; err != nil {
			return notFound("run", name, err)
		}

		if err := tx.Where("run_id = ?", run.ID).
			Delete(&Job{}).Error; err != nil {
			return fmt.Errorf("deleting jobs for run: %w", err)
		}

		if err := tx.Delete(&run).Error; err != nil {
			return fmt.Errorf("deleting run: %w", err)
		}

		return nil
	})
}

// ListBranches returns the distinct non-empty branch names.
func (s *store) ListBranches(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "branch")
}

// ListSuites returns the distinct non-empty suite names.
func (s *store) ListSuites(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "suite")
}

func (s *store) distinct(ctx context.Context, column string) ([]string, error) {
	values := make([]string, 0, 16)
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where(column + " <> ''").
		Distinct().
		Order(column).
		Pluck(column, &values).Error; err != nil {
		return nil, fmt.Errorf("listing distinct %s: %w", column, err)
	}

	return values, nil
}

// --- Jobs ---

// CreateJob adds a job to the named run. Posted and Updated default to now.
func (s *store) CreateJob(
	ctx context.Context, runName string, job *Job,
) error {
	if err := job.Normalize(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run Run
		if err := tx.Where("name = ?", runName).First(&run).Error; err != nil {
			return notFound("run", runName, err)
		}

		var count int64
		if err := tx.Model(&Job{}).
			Where("run_id = ? AND job_id = ?", run.ID, job.JobID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking job id: %w", err)
		}

		if count > 0 {
			return fmt.Errorf("job %q: %w", job.JobID, ErrAlreadyExists)
		}

		now := s.now()
		if job.Posted.IsZero() {
			job.Posted = now
		}

		if job.Updated.IsZero() {
			job.Updated = now
		}

		job.RunID = run.ID

		if err := tx.Create(job).Error; err != nil {
			return duplicate("job", job.JobID, err)
		}

		return nil
	})
}

// GetJob returns a single job of the named run.
func (s *store) GetJob(
	ctx context.Context, runName, jobID string,
) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).
		Joins("JOIN runs ON runs.id = jobs.run_id").
		Where("runs.name = ? AND jobs.job_id = ?", runName, jobID).
		First(&job).Error; err != nil {
		return nil, notFound("job", jobID, err)
	}

	return &job, nil
}

// ListJobs returns the jobs of the named run in ID order. A non-empty
// status restricts the result to that status.
func (s *store) ListJobs(
	ctx context.Context, runName, status string,
) ([]Job, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("name = ?", runName).
		First(&run).Error; err != nil {
		return nil, notFound("run", runName, err)
	}

	q := s.db.WithContext(ctx).Where("run_id = ?", run.ID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var jobs []Job
	if err := q.Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	return jobs, nil
}

// UpdateJob saves every field of an existing job and bumps Updated.
func (s *store) UpdateJob(ctx context.Context, job *Job) error {
	if job.ID == 0 {
		return fmt.Errorf("job %q: %w", job.JobID, ErrNotFound)
	}

	if err := job.Normalize(); err != nil {
		return err
	}

	job.Updated = s.now()

	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	return nil
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// notFound maps gorm's record-not-found error onto ErrNotFound.
func notFound(kind, key string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %q: %w", kind, key, ErrNotFound)
	}

	return fmt.Errorf("getting %s %q: %w", kind, key, err)
}

// duplicate maps a unique-constraint violation on insert onto
// ErrAlreadyExists.
func duplicate(kind, key string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s %q: %w", kind, key, ErrAlreadyExists)
	}

	return fmt.Errorf("creating %s: %w", kind, err)
}
