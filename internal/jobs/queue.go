package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	TaskScanRun    = "scan:run"
	TaskAutofixRun = "autofix:run"
)

// Queue names. Scans get the weight; maintenance work (autofix passes)
// yields to them.
const (
	QueueScans       = "scans"
	QueueMaintenance = "maintenance"
)

// Queue wraps the asynq client and worker. Only one scan runs at a time
// regardless of worker concurrency; the engine enforces that, the queue
// just keeps duplicate task IDs out.
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
}

func NewQueue(redisAddr string) *Queue {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Queue{
		client: asynq.NewClient(redisOpt),
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				QueueScans:       3,
				QueueMaintenance: 1,
			},
		}),
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
	}
}

func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

// EnqueueUnique enqueues a task under a deterministic ID so the same run
// is never queued twice. A finished task lingering in Redis under that ID
// is cleared and the enqueue retried; a live one means the work is already
// happening, which counts as success.
func (q *Queue) EnqueueUnique(taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data, append(opts, asynq.TaskID(uniqueID))...)

	info, err := q.client.Enqueue(task)
	if err == nil {
		return info.ID, nil
	}
	if !isTaskConflict(err) {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}

	for _, queueName := range []string{QueueScans, QueueMaintenance} {
		if q.inspector.DeleteTask(queueName, uniqueID) == nil {
			log.Printf("[jobs] cleared finished task %s from %s", uniqueID, queueName)
			if info, err = q.client.Enqueue(task); err == nil {
				return info.ID, nil
			}
			break
		}
	}

	if isTaskConflict(err) {
		log.Printf("[jobs] task %s (%s) already live, skipping enqueue", taskType, uniqueID)
		return uniqueID, nil
	}
	return "", fmt.Errorf("enqueue %s: %w", taskType, err)
}

// asynq wraps its sentinels inconsistently across versions, hence the
// string fallback.
func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// Start runs the worker until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) error {
	log.Println("[jobs] worker starting...")
	go func() {
		<-ctx.Done()
		q.server.Shutdown()
	}()
	return q.server.Start(q.mux)
}

func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}
