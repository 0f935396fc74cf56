package topology

const (
	blank    = ' '
	corner   = '-'
	turn     = '`'
	vertical = '|'
)

// canvas is the scratch grid a single render draws onto. Unwritten cells are
// zero and terminate a row.
type canvas struct {
	cells [][]byte
	width int
	lines int
}

func newCanvas(rows, width int) *canvas {
	return &canvas{
		cells: make([][]byte, rows),
		width: width,
	}
}

func (c *canvas) full() bool {
	return c.lines >= len(c.cells)
}

// write puts text on the next free row, indented by depth, and clips it to
// the canvas width leaving room for a terminator.
func (c *canvas) write(depth int, text string) {
	row := make([]byte, c.width)
	n := copy(row[:c.width-1], spaces(depth))
	if n < c.width-1 {
		copy(row[n:c.width-1], text)
	}
	c.cells[c.lines] = row
	c.lines++
}

func spaces(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = blank
	}
	return b
}

func (c *canvas) at(row, col int) byte {
	if col < 0 || col >= c.width {
		return 0
	}
	return c.cells[row][col]
}

// connect draws branch lines from every server row up to its parent,
// turning each label's indentation into an L shape and merging the shapes of
// siblings into a single vertical line.
func (c *canvas) connect() {
	for l := 1; l < c.lines; l++ {
		first := 0
		for c.at(l, first) == blank {
			first++
		}
		col := first - 1
		if col < 1 {
			continue
		}
		c.cells[l][col] = corner
		c.cells[l][col-1] = turn
		for l2 := l - 1; l2 >= 0; l2-- {
			ch := c.at(l2, col-1)
			if ch != blank && ch != turn {
				break
			}
			c.cells[l2][col-1] = vertical
		}
	}
}

// rows returns the written rows as strings.
func (c *canvas) rows() []string {
	ret := make([]string, 0, c.lines)
	for _, row := range c.cells[:c.lines] {
		end := 0
		for end < len(row) && row[end] != 0 {
			end++
		}
		ret = append(ret, string(row[:end]))
	}
	return ret
}
