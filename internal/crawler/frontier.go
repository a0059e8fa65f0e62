package crawler

// Frontier is the working set of one seed crawl: visited pages, the pending
// FIFO queue, and the image URLs discovered so far. It is owned by a single
// goroutine and is not safe for concurrent use.
type Frontier struct {
	visited map[string]struct{}
	pending []CrawlTask
	images  map[string]struct{}
	order   []string
}

// NewFrontier seeds a frontier with the given URLs at depth 0.
func NewFrontier(seeds ...string) *Frontier {
	f := &Frontier{
		visited: make(map[string]struct{}),
		images:  make(map[string]struct{}),
	}
	for _, seed := range seeds {
		f.Push(CrawlTask{URL: Canonicalize(seed), Depth: 0})
	}
	return f
}

// Push appends a task to the pending queue.
func (f *Frontier) Push(task CrawlTask) {
	f.pending = append(f.pending, task)
}

// Pop removes the oldest pending task.
func (f *Frontier) Pop() (CrawlTask, bool) {
	if len(f.pending) == 0 {
		return CrawlTask{}, false
	}
	task := f.pending[0]
	f.pending[0] = CrawlTask{}
	f.pending = f.pending[1:]
	return task, true
}

// Pending returns the number of queued tasks.
func (f *Frontier) Pending() int {
	return len(f.pending)
}

// Visited reports whether the page has already been taken off the queue.
func (f *Frontier) Visited(pageURL string) bool {
	_, ok := f.visited[pageURL]
	return ok
}

// MarkVisited records the page and returns false if it was already visited.
func (f *Frontier) MarkVisited(pageURL string) bool {
	if _, ok := f.visited[pageURL]; ok {
		return false
	}
	f.visited[pageURL] = struct{}{}
	return true
}

// AddImage records a discovered image URL and returns true when it is new.
func (f *Frontier) AddImage(imageURL string) bool {
	if imageURL == "" {
		return false
	}
	if _, ok := f.images[imageURL]; ok {
		return false
	}
	f.images[imageURL] = struct{}{}
	f.order = append(f.order, imageURL)
	return true
}

// ImageCount returns the number of distinct images discovered.
func (f *Frontier) ImageCount() int {
	return len(f.order)
}

// Images returns the discovered image URLs in discovery order.
func (f *Frontier) Images() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}
