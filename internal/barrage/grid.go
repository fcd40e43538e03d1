/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package barrage

// Placement grid dimensions and the percentage region it spans.
const (
	Cols = 11
	Rows = 9

	LeftStart = 20.0
	LeftEnd   = 80.0
	TopStart  = 15.0
	TopEnd    = 82.0
)

// Zone is one cell of the placement grid.
type Zone struct {
	Index int
	Row   int
	Col   int
	Top   float64
	Left  float64
}

var zones = buildZones()

func buildZones() []Zone {
	out := make([]Zone, 0, Rows*Cols)

	for r := range Rows {
		for c := range Cols {
			out = append(out, Zone{
				Index: r*Cols + c,
				Row:   r,
				Col:   c,
				Top:   TopStart + float64(r)*((TopEnd-TopStart)/float64(max(Rows-1, 1))),
				Left:  LeftStart + float64(c)*((LeftEnd-LeftStart)/float64(max(Cols-1, 1))),
			})
		}
	}

	return out
}

// Zones returns a copy of the placement grid.
func Zones() []Zone {
	return append([]Zone(nil), zones...)
}

// Neighborhood returns the indices of the zone at idx and its in-bounds neighbors.
func Neighborhood(idx int) []int {
	if idx < 0 || idx >= len(zones) {
		return nil
	}

	z := zones[idx]
	out := make([]int, 0, 9)

	for r := z.Row - 1; r <= z.Row+1; r++ {
		for c := z.Col - 1; c <= z.Col+1; c++ {
			if r >= 0 && r < Rows && c >= 0 && c < Cols {
				out = append(out, r*Cols+c)
			}
		}
	}

	return out
}

// Adjacent reports whether zones a and b lie within each other's 3x3 neighborhood.
func Adjacent(a, b int) bool {
	za, zb := zones[a], zones[b]

	return abs(za.Row-zb.Row) <= 1 && abs(za.Col-zb.Col) <= 1
}

func clampPosition(left, top float64) (float64, float64) {
	left = min(max(left, LeftStart+1), LeftEnd-1)
	top = min(max(top, TopStart+1), TopEnd-1)

	return left, top
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
