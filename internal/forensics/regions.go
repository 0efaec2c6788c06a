package forensics

import "sort"

// blockGrid describes how a check tiles the image: blocks of blockW x blockH
// pixels placed every strideX/strideY pixels, indexed row-major.
type blockGrid struct {
	cols, rows       int
	blockW, blockH   int
	strideX, strideY int
}

// regions merges flagged blocks into connected groups (4-connectivity on the
// grid) and returns one bounding rectangle per group. The region score is
// the maximum score among its member blocks. Union-find runs iteratively
// with path halving; the smaller index wins the root so results do not
// depend on map iteration order.
func (g blockGrid) regions(flagged map[int]float64, source string) []Region {
	if len(flagged) == 0 {
		return nil
	}

	parent := make([]int, g.cols*g.rows)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		switch {
		case ra == rb:
		case ra < rb:
			parent[rb] = ra
		default:
			parent[ra] = rb
		}
	}

	for idx := range flagged {
		x, y := idx%g.cols, idx/g.cols
		if x > 0 {
			if _, ok := flagged[idx-1]; ok {
				union(idx, idx-1)
			}
		}
		if y > 0 {
			if _, ok := flagged[idx-g.cols]; ok {
				union(idx, idx-g.cols)
			}
		}
	}

	type bboxAcc struct {
		minX, minY, maxX, maxY int
		score                  float64
	}
	accs := make(map[int]*bboxAcc)
	var roots []int
	for idx := 0; idx < g.cols*g.rows; idx++ {
		score, ok := flagged[idx]
		if !ok {
			continue
		}
		root := find(idx)
		x0 := (idx % g.cols) * g.strideX
		y0 := (idx / g.cols) * g.strideY
		x1, y1 := x0+g.blockW, y0+g.blockH

		acc, ok := accs[root]
		if !ok {
			accs[root] = &bboxAcc{minX: x0, minY: y0, maxX: x1, maxY: y1, score: score}
			roots = append(roots, root)
			continue
		}
		acc.minX = min(acc.minX, x0)
		acc.minY = min(acc.minY, y0)
		acc.maxX = max(acc.maxX, x1)
		acc.maxY = max(acc.maxY, y1)
		acc.score = max(acc.score, score)
	}

	regions := make([]Region, 0, len(roots))
	for _, root := range roots {
		acc := accs[root]
		regions = append(regions, Region{
			X:      acc.minX,
			Y:      acc.minY,
			W:      acc.maxX - acc.minX,
			H:      acc.maxY - acc.minY,
			Score:  acc.score,
			Source: source,
		})
	}
	return regions
}

// dedupeRegions drops regions overlapping an equal-or-higher scoring region
// at IoU >= minOverlap. Output is sorted by descending score, then
// top-to-bottom, left-to-right.
func dedupeRegions(regions []Region, minOverlap float64) []Region {
	if len(regions) == 0 {
		return nil
	}
	sorted := append([]Region(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Source < sorted[j].Source
	})

	kept := make([]Region, 0, len(sorted))
	for _, candidate := range sorted {
		duplicate := false
		for _, existing := range kept {
			if regionIoU(existing, candidate) >= minOverlap {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func regionIoU(a, b Region) float64 {
	ix := overlap1D(a.X, a.X+a.W, b.X, b.X+b.W)
	iy := overlap1D(a.Y, a.Y+a.H, b.Y, b.Y+b.H)
	intersection := float64(ix * iy)
	if intersection <= 0 {
		return 0
	}
	union := float64(a.W*a.H+b.W*b.H) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func overlap1D(a0, a1, b0, b1 int) int {
	lo := max(a0, b0)
	hi := min(a1, b1)
	if hi > lo {
		return hi - lo
	}
	return 0
}
