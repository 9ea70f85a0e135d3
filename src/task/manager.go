package task

import "fmt"

// TaskManager manages async tasks and their execution
type TaskManager struct {
	workerPool *WorkerPool
}

// NewTaskManager creates a new TaskManager instance
func NewTaskManager(config ResourceConfig) *TaskManager {
	return &TaskManager{
		workerPool: NewWorkerPool(config),
	}
}

// Start starts the task manager and its worker pool
func (tm *TaskManager) Start() {
	tm.workerPool.Start()
}

// Stop stops the task manager and its worker pool
func (tm *TaskManager) Stop() {
	tm.workerPool.Stop()
}

// SubmitTask submits a task for execution
func (tm *TaskManager) SubmitTask(t *Task) error {
	if _, exists := GetTaskExecutor(t.Type); !exists {
		return fmt.Errorf("task type %v is not registered", t.Type)
	}
	return tm.workerPool.Submit(t)
}
