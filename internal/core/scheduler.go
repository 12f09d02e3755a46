package core

import (
	"context"
	"sync"
	"time"
)

// Job описывает периодическую задачу модуля.
type Job func(ctx context.Context) error

// Scheduler запускает задачи с фиксированным интервалом.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	onError  func(error)
	wg       sync.WaitGroup
}

// NewScheduler создает scheduler с заданным интервалом.
func NewScheduler(interval time.Duration, onError func(error)) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{interval: interval, onError: onError}
}

// Add добавляет задачу в расписание.
func (s *Scheduler) Add(jobs ...Job) {
	s.jobs = append(s.jobs, jobs...)
}

// Len возвращает число задач.
func (s *Scheduler) Len() int { return len(s.jobs) }

// Start блокируется до отмены контекста; тик не ждет завершения предыдущего.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			for _, job := range s.jobs {
				s.wg.Add(1)
				go func(job Job) {
					defer s.wg.Done()
					if err := job(ctx); err != nil && s.onError != nil {
						s.onError(err)
					}
				}(job)
			}
		}
	}
}
