package graph

// nodeQueue is a FIFO of node ids backed by a ring buffer. BFS connectivity
// checks are the hottest loop in an optimization run; the ring gives
// amortized O(1) push and pop without the linear-time front removal of a
// naive slice queue.
type nodeQueue struct {
	buf   []NodeID
	head  int
	tail  int
	count int
}

func newNodeQueue(capacity int) *nodeQueue {
	if capacity < 16 {
		capacity = 16
	}
	return &nodeQueue{buf: make([]NodeID, capacity)}
}

func (q *nodeQueue) push(id NodeID) {
	if q.count == len(q.buf) {
		q.grow()
	}
	q.buf[q.tail] = id
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
}

func (q *nodeQueue) pop() NodeID {
	id := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return id
}

func (q *nodeQueue) empty() bool {
	return q.count == 0
}

func (q *nodeQueue) reset() {
	q.head = 0
	q.tail = 0
	q.count = 0
}

func (q *nodeQueue) grow() {
	next := make([]NodeID, len(q.buf)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
}
