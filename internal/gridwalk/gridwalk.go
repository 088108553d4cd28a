// Package gridwalk treats a pattern grid as a map that a player can walk on.
// White cells are floor, black cells are walls.
package gridwalk

import (
	"fmt"
	"strings"

	"pixgrid/internal/pattern"
)

// Pos is a cell position; X is the column, Y the row.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Start is where a walk begins when no position is given.
var Start = Pos{X: 1, Y: 1}

// Dir is a single step.
type Dir struct {
	DX, DY int
}

var (
	Up    = Dir{DY: -1}
	Down  = Dir{DY: 1}
	Left  = Dir{DX: -1}
	Right = Dir{DX: 1}
)

// DirFromKey maps keyboard names (w/a/s/d and arrow keys) to a direction.
func DirFromKey(key string) (Dir, bool) {
	switch strings.ToLower(key) {
	case "w", "arrowup", "up":
		return Up, true
	case "s", "arrowdown", "down":
		return Down, true
	case "a", "arrowleft", "left":
		return Left, true
	case "d", "arrowright", "right":
		return Right, true
	}
	return Dir{}, false
}

// Map is a walkable view of a pattern grid.
type Map struct {
	g *pattern.Grid
}

// New wraps g.
func New(g *pattern.Grid) *Map { return &Map{g: g} }

// Rows returns the map height.
func (m *Map) Rows() int { return m.g.Rows() }

// Cols returns the map width.
func (m *Map) Cols() int { return m.g.Cols() }

// Walkable reports whether (x, y) is a white cell inside the map.
func (m *Map) Walkable(x, y int) bool {
	if y < 0 || y >= m.g.Rows() || x < 0 || x >= m.g.Cols() {
		return false
	}
	return !m.g.Black(y, x)
}

// Move steps from p in d. A blocked step leaves the position unchanged and
// reports false.
func (m *Map) Move(p Pos, d Dir) (Pos, bool) {
	next := Pos{X: p.X + d.DX, Y: p.Y + d.DY}
	if !m.Walkable(next.X, next.Y) {
		return p, false
	}
	return next, true
}

// Validate checks the map dimensions and that the start cell is floor.
func (m *Map) Validate(rows, cols int) error {
	if m.Rows() != rows || m.Cols() != cols {
		return fmt.Errorf("map is %dx%d, want %dx%d", m.Cols(), m.Rows(), cols, rows)
	}
	if !m.Walkable(Start.X, Start.Y) {
		return fmt.Errorf("start cell (%d,%d) is not walkable", Start.X, Start.Y)
	}
	return nil
}

// Reachable counts the floor cells reachable from p.
func (m *Map) Reachable(p Pos) int {
	if !m.Walkable(p.X, p.Y) {
		return 0
	}
	seen := map[Pos]bool{p: true}
	queue := []Pos{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range []Dir{Up, Down, Left, Right} {
			next, ok := m.Move(cur, d)
			if ok && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return len(seen)
}
