package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
)

// Server consumes pipeline tasks.
type Server struct {
	srv      *asynq.Server
	mux      *asynq.ServeMux
	status   *StatusStore
	maxRetry int
}

// NewServer creates a worker server with bounded exponential retry. Tasks that
// exhaust their retries, or fail with a structural error, are archived as dead
// letters.
func NewServer(redisCfg *config.RedisConfig, queueCfg *config.QueueConfig, handlers *Handlers, status *StatusStore) *Server {
	s := &Server{
		mux:      asynq.NewServeMux(),
		status:   status,
		maxRetry: queueCfg.MaxRetry,
	}

	concurrency := queueCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	s.srv = asynq.NewServer(RedisOpt(redisCfg), asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{queueCfg.Name: 1},
		RetryDelayFunc:  RetryDelay(queueCfg.RetryBaseDelay, queueCfg.RetryMaxDelay),
		IsFailure:       func(err error) bool { return !errors.Is(err, context.Canceled) },
		ErrorHandler:    asynq.ErrorHandlerFunc(s.handleError),
		Logger:          logger.GetDefault().WithField(logger.FieldComponent, "asynq"),
		ShutdownTimeout: queueCfg.ShutdownTimeout,
	})

	s.mux.Use(s.middleware)
	handlers.Register(s.mux)
	return s
}

// Run processes tasks until the process receives a termination signal.
func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

// Shutdown stops fetching new tasks and waits for active ones.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// middleware attaches task fields to the logger, records status, and
// classifies handler errors.
func (s *Server) middleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		taskID, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)

		ctx = logger.SetTask(ctx, taskID, t.Type())
		ctx = logger.SetComponent(ctx, "worker")
		s.setStatus(ctx, taskID, StateRunning, "")

		start := time.Now()
		err := classify(next.ProcessTask(ctx, t))
		entry := logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).WithRetry(retried)

		if err == nil {
			entry.Debug(ctx, "Task completed")
			s.setStatus(ctx, taskID, StateSuccess, "")
			return nil
		}

		if s.isFinal(ctx, err) {
			s.setStatus(ctx, taskID, StateFailure, err.Error())
		} else {
			s.setStatus(ctx, taskID, StatePending, "retrying: "+err.Error())
		}
		return err
	})
}

// handleError runs after every failed attempt.
func (s *Server) handleError(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	taskID, _ := asynq.GetTaskID(ctx)

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldTaskID:   taskID,
		logger.FieldTaskType: t.Type(),
		logger.FieldRetry:    retried,
	}).WithError(err)

	if s.isFinal(ctx, err) {
		log.Errorf("Task moved to dead letters after %d/%d retries", retried, maxRetry)
		return
	}
	log.Warn("Task failed, will retry")
}

func (s *Server) isFinal(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = s.maxRetry
	}
	return retried >= maxRetry
}

func (s *Server) setStatus(ctx context.Context, taskID, state, message string) {
	if s.status == nil || taskID == "" {
		return
	}
	if err := s.status.Set(ctx, taskID, state, message); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record task status")
	}
}
