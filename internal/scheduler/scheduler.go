package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"formation-booking/internal/apperror"
	"formation-booking/internal/config"
	"formation-booking/internal/logger"
	"formation-booking/internal/redis"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("formation-booking/internal/scheduler")

// specParser разбирает выражения с секундами: "0 0 3 * * ?".
var specParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// JobFunc выполняет один прогон задачи.
type JobFunc func(ctx context.Context) error

// Locker даёт взаимоисключение между экземплярами сервиса.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type job struct {
	name     string
	schedule cron.Schedule
	run      JobFunc
}

// Scheduler запускает зарегистрированные задачи по cron-выражениям в
// часовом поясе конфигурации.
type Scheduler struct {
	loc     *time.Location
	locker  Locker
	lockTTL time.Duration
	log     *logger.Logger
	now     func() time.Time
	cron    *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New создаёт планировщик. locker может быть nil, тогда прогоны не
// согласуются между экземплярами.
func New(cfg *config.SchedulerConfig, locker Locker, log *logger.Logger) (*Scheduler, error) {
	loc := time.Local
	if cfg.Location != "" {
		l, err := time.LoadLocation(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to load scheduler location %q: %w", cfg.Location, err)
		}
		loc = l
	}

	ttl := time.Duration(cfg.LockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	cronLog := cron.PrintfLogger(log)
	return &Scheduler{
		loc:     loc,
		locker:  locker,
		lockTTL: ttl,
		log:     log,
		now:     time.Now,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(specParser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs: make(map[string]*job),
	}, nil
}

// Register добавляет задачу с cron-выражением spec (с полем секунд).
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	schedule, err := specParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, schedule: schedule, run: fn}
	s.jobs[name] = j
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.runScheduled(j) }))
	return nil
}

// Location возвращает часовой пояс расписания.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Jobs возвращает имена зарегистрированных задач.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun возвращает ближайший запуск задачи после after.
func (s *Scheduler) NextRun(name string, after time.Time) (time.Time, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return time.Time{}, apperror.NotFound(fmt.Sprintf("job %s not found", name), nil)
	}
	return j.schedule.Next(after.In(s.loc)), nil
}

// Start запускает cron.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	s.log.WithFields(map[string]interface{}{
		"jobs":     len(s.jobs),
		"location": s.loc.String(),
	}).Info("Scheduler started")
}

// Stop останавливает cron и дожидается завершения текущих прогонов.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) runScheduled(j *job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.execute(ctx, j); err != nil {
		if apperror.Is(err, apperror.KindConflict) {
			s.log.WithField("job", j.name).Debug("Job is running on another instance, skipped")
			return
		}
		s.log.WithError(err).WithField("job", j.name).Error("Scheduled job failed")
	}
}

// RunNow выполняет задачу немедленно. Неизвестная задача даёт NotFound,
// занятая блокировка даёт Conflict.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return apperror.NotFound(fmt.Sprintf("job %s not found", name), nil)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j *job) (err error) {
	ctx, span := tracer.Start(ctx, "scheduler."+j.name)
	span.SetAttributes(attribute.String("job.name", j.name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.locker != nil {
		key := redis.GenerateKey(redis.KeyPrefixJobLock, j.name)
		token, acquired, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to lock job %s: %w", j.name, err)
		}
		if !acquired {
			return apperror.Conflict(fmt.Sprintf("job %s is already running", j.name), nil)
		}
		defer func() {
			if releaseErr := s.locker.ReleaseLock(context.Background(), key, token); releaseErr != nil {
				s.log.WithError(releaseErr).WithField("job", j.name).Warn("Failed to release job lock")
			}
		}()
	}

	started := s.now()
	s.log.WithField("job", j.name).Info("Job started")
	if err := j.run(ctx); err != nil {
		return err
	}

	s.log.WithFields(map[string]interface{}{
		"job":      j.name,
		"duration": s.now().Sub(started).String(),
	}).Info("Job finished")
	return nil
}
