package utils

// JobPool is a counting semaphore bounding concurrent goroutines
type JobPool struct {
	jobs chan struct{}
}

func (p *JobPool) Get() {
	<-p.jobs
}

func (p *JobPool) Put() {
	p.jobs <- struct{}{}
}

func NewJobPool(size int) (j *JobPool) {
	if size <= 0 {
		size = 1
	}
	j = &JobPool{jobs: make(chan struct{}, size)}
	for range size {
		j.jobs <- struct{}{}
	}
	return j
}
