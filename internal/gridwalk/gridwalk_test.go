package gridwalk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixgrid/internal/pattern"
)

const maze = `{"grid": [
  [1, 1, 1, 1],
  [1, 0, 0, 1],
  [1, 0, 1, 1],
  [1, 1, 1, 1]
]}`

func load(t *testing.T, src string) *Map {
	t.Helper()
	g, err := pattern.Decode(strings.NewReader(src))
	require.NoError(t, err)
	return New(g)
}

func TestWalkable(t *testing.T) {
	m := load(t, maze)
	assert.True(t, m.Walkable(1, 1))
	assert.True(t, m.Walkable(2, 1))
	assert.False(t, m.Walkable(2, 2))
	assert.False(t, m.Walkable(-1, 0))
	assert.False(t, m.Walkable(4, 1))
}

func TestMove(t *testing.T) {
	m := load(t, maze)
	p, ok := m.Move(Start, Right)
	assert.True(t, ok)
	assert.Equal(t, Pos{X: 2, Y: 1}, p)

	p, ok = m.Move(p, Down)
	assert.False(t, ok)
	assert.Equal(t, Pos{X: 2, Y: 1}, p)
}

func TestLabelMap(t *testing.T) {
	m := load(t, `{"grid": [["black","white"],["white","white"]]}`)
	assert.False(t, m.Walkable(0, 0))
	assert.True(t, m.Walkable(1, 0))
}

func TestDirFromKey(t *testing.T) {
	for key, want := range map[string]Dir{"w": Up, "ArrowDown": Down, "a": Left, "D": Right} {
		got, ok := DirFromKey(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got)
	}
	_, ok := DirFromKey("q")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	m := load(t, maze)
	assert.NoError(t, m.Validate(4, 4))
	assert.Error(t, m.Validate(90, 160))
	assert.Error(t, load(t, `{"grid": [[1,1],[1,1]]}`).Validate(2, 2))
}

func TestReachable(t *testing.T) {
	m := load(t, maze)
	assert.Equal(t, 3, m.Reachable(Start))
	assert.Equal(t, 0, m.Reachable(Pos{}))
}
