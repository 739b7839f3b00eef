package core

import (
	"errors"
	"fmt"
)

// ErrInvalidGrid is returned for malformed reception grids.
var ErrInvalidGrid = errors.New("invalid reception grid")

// ReceptionGrid divides the XY plane of the simulation area into a fixed
// matrix of cells, each holding a static packet reception ratio.
// Cells[row][col] covers y in [row*h, (row+1)*h) and x in [col*w, (col+1)*w).
type ReceptionGrid struct {
	Width  float64
	Height float64
	Cells  [][]float64
}

// NewReceptionGrid validates and copies the cell matrix.
func NewReceptionGrid(width, height float64, cells [][]float64) (*ReceptionGrid, error) {
	if !(width > 0) || !(height > 0) {
		return nil, fmt.Errorf("%w: area %vx%v must be positive", ErrInvalidGrid, width, height)
	}
	if len(cells) == 0 || len(cells[0]) == 0 {
		return nil, fmt.Errorf("%w: no cells", ErrInvalidGrid)
	}
	cols := len(cells[0])
	out := make([][]float64, len(cells))
	for r, row := range cells {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrInvalidGrid, r, len(row), cols)
		}
		for c, p := range row {
			if !(p >= 0 && p <= 1) {
				return nil, fmt.Errorf("%w: cell [%d][%d]=%v outside [0,1]", ErrInvalidGrid, r, c, p)
			}
		}
		out[r] = append([]float64(nil), row...)
	}
	return &ReceptionGrid{Width: width, Height: height, Cells: out}, nil
}

// Rows returns the number of grid rows.
func (g *ReceptionGrid) Rows() int { return len(g.Cells) }

// Cols returns the number of grid columns.
func (g *ReceptionGrid) Cols() int {
	if len(g.Cells) == 0 {
		return 0
	}
	return len(g.Cells[0])
}

// Cell maps a position onto its grid cell. Points on the far edge of the
// area belong to the last row/column; points outside the area have no cell.
func (g *ReceptionGrid) Cell(p Vec3) (row, col int, ok bool) {
	if p.X < 0 || p.Y < 0 || p.X > g.Width || p.Y > g.Height {
		return 0, 0, false
	}
	col = int(p.X / (g.Width / float64(g.Cols())))
	row = int(p.Y / (g.Height / float64(g.Rows())))
	if col == g.Cols() {
		col--
	}
	if row == g.Rows() {
		row--
	}
	return row, col, true
}

// Probability returns the reception ratio at p; 0 outside the area.
func (g *ReceptionGrid) Probability(p Vec3) float64 {
	row, col, ok := g.Cell(p)
	if !ok {
		return 0
	}
	return g.Cells[row][col]
}
