package task

import (
	"fmt"
	"sync"
	"time"
)

// WorkerPool manages a pool of workers for executing tasks
type WorkerPool struct {
	config      ResourceConfig
	workers     []*Worker
	taskQueue   chan *Task
	stopChan    chan struct{}
	idleWorkers chan *Worker
	mu          sync.RWMutex
}

// Worker represents a task execution worker
type Worker struct {
	id       string
	status   WorkerStatus
	taskChan chan *Task
	stopChan chan struct{}
	pool     *WorkerPool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config ResourceConfig) *WorkerPool {
	wp := &WorkerPool{
		config:      config,
		taskQueue:   make(chan *Task, config.MaxWorkers*2),
		stopChan:    make(chan struct{}),
		idleWorkers: make(chan *Worker, config.MaxWorkers),
	}

	wp.initWorkers()
	return wp
}

// initWorkers 初始化工作者，初始时全部空闲
func (wp *WorkerPool) initWorkers() {
	wp.workers = make([]*Worker, wp.config.MaxWorkers)
	for i := 0; i < wp.config.MaxWorkers; i++ {
		worker := newWorker(fmt.Sprintf("worker-%d", i), wp)
		wp.workers[i] = worker
		wp.idleWorkers <- worker
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for _, worker := range wp.workers {
		go worker.start()
	}

	go wp.distributeItems()
}

// Stop stops the worker pool
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	close(wp.stopChan)
	for _, worker := range wp.workers {
		worker.stop()
	}
}

// Submit submits a task to the worker pool
func (wp *WorkerPool) Submit(task *Task) error {
	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// distributeItems distributes tasks to available workers
func (wp *WorkerPool) distributeItems() {
	for {
		select {
		case <-wp.stopChan:
			return
		case task := <-wp.taskQueue:
			wp.assignTask(task)
		}
	}
}

// assignTask assigns a task to an available worker
func (wp *WorkerPool) assignTask(task *Task) {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		task.Error = fmt.Errorf("no executor registered for task type: %v", task.Type)
		task.Status = TaskStatusFailed
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
		return
	}

	select {
	case worker := <-wp.idleWorkers:
		worker.assignTask(task)
	case <-time.After(10 * time.Second):
		// 等不到空闲工作者直接失败，不重排队
		task.Status = TaskStatusFailed
		task.Error = fmt.Errorf("no available workers within timeout")
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// workerFinished 工作者完成任务后回到空闲队列
func (wp *WorkerPool) workerFinished(worker *Worker) {
	select {
	case wp.idleWorkers <- worker:
	default:
		fmt.Printf("Warning: Failed to return worker %s to idle pool\n", worker.id)
	}
}

// newWorker creates a new worker
func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:       id,
		status:   WorkerStatusIdle,
		taskChan: make(chan *Task, 1),
		stopChan: make(chan struct{}),
		pool:     pool,
	}
}

// start starts the worker loop
func (w *Worker) start() {
	for {
		select {
		case <-w.stopChan:
			return
		case task := <-w.taskChan:
			w.executeTask(task)
		}
	}
}

// executeTask executes a task
func (w *Worker) executeTask(task *Task) {
	w.status = WorkerStatusBusy

	defer func() {
		w.status = WorkerStatusIdle
		w.pool.workerFinished(w)
	}()

	task.Execute()
}

// stop stops the worker
func (w *Worker) stop() {
	w.status = WorkerStatusStopped
	close(w.stopChan)
}

// assignTask assigns a task to the worker
func (w *Worker) assignTask(task *Task) {
	select {
	case w.taskChan <- task:
	default:
		// taskChan有缓冲，正常不会走到这里
		fmt.Printf("Warning: Failed to assign task to worker %s\n", w.id)
	}
}
