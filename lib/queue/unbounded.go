package queue

// Unbounded is a FIFO channel that never blocks the producer for longer than
// it takes the internal goroutine to append to its buffer.
type Unbounded[T any] struct {
	in  chan T
	out chan T
}

func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		in:  make(chan T),
		out: make(chan T),
	}

	go q.run()
	return q
}

// Push enqueues v. Push must not be called after Close.
func (q *Unbounded[T]) Push(v T) {
	q.in <- v
}

// Out yields items in the order they were pushed. It is closed once Close
// has been called and the buffer is drained.
func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

func (q *Unbounded[T]) Close() {
	close(q.in)
}

func (q *Unbounded[T]) run() {
	var buf []T
	in := q.in

	for in != nil || len(buf) > 0 {
		if len(buf) == 0 {
			v, ok := <-in
			if !ok {
				break
			}
			buf = append(buf, v)
			continue
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
		case q.out <- buf[0]:
			var zero T
			buf[0] = zero
			buf = buf[1:]
		}
	}

	close(q.out)
}
