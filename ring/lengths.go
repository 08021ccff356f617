package ring

// lengths is the chunk length ring: a fixed table of write-record sizes,
// advanced independently of the byte region it describes.
type lengths struct {
	table []int
	head  int // read slot
	tail  int // write slot
	count int
}

func newLengths(capacity int) lengths {
	return lengths{table: make([]int, capacity)}
}

func (l *lengths) len() int {
	return l.count
}

func (l *lengths) free() int {
	return len(l.table) - l.count
}

// front returns the length recorded at the read slot, 0 if none is outstanding.
func (l *lengths) front() int {
	return l.table[l.head]
}

// at returns the i-th outstanding length counting from the read slot.
func (l *lengths) at(i int) int {
	return l.table[(l.head+i)%len(l.table)]
}

func (l *lengths) push(n int) {
	l.table[l.tail] = n
	l.tail = (l.tail + 1) % len(l.table)
	l.count++
}

func (l *lengths) pop() int {
	n := l.table[l.head]
	l.table[l.head] = 0
	l.head = (l.head + 1) % len(l.table)
	l.count--
	return n
}

func (l *lengths) reset() {
	for i := range l.table {
		l.table[i] = 0
	}
	l.head, l.tail, l.count = 0, 0, 0
}
