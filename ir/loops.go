package ir

import "sort"

// Loop is a natural loop. Blocks holds every block of the loop, including
// those of nested loops, in function order with the header first.
type Loop struct {
	Header   *Block
	Blocks   []*Block
	Parent   *Loop
	Children []*Loop

	set map[*Block]bool
}

// Contains reports whether b belongs to the loop or one of its children.
func (l *Loop) Contains(b *Block) bool {
	return l.set[b]
}

// Depth returns the nesting depth, 1 for outermost loops.
func (l *Loop) Depth() int {
	d := 0
	for p := l; p != nil; p = p.Parent {
		d++
	}
	return d
}

// LoopInfo is the loop nest of a function.
type LoopInfo struct {
	TopLevel []*Loop
	inner    map[*Block]*Loop
	idom     map[*Block]*Block
}

// LoopFor returns the innermost loop containing b, or nil.
func (li *LoopInfo) LoopFor(b *Block) *Loop {
	return li.inner[b]
}

// IsHeader reports whether b heads some loop.
func (li *LoopInfo) IsHeader(b *Block) bool {
	l := li.inner[b]
	return l != nil && l.Header == b
}

// Dominates reports whether a dominates b. Unreachable blocks are
// dominated by nothing.
func (li *LoopInfo) Dominates(a, b *Block) bool {
	for x := b; x != nil; {
		if x == a {
			return true
		}
		next, ok := li.idom[x]
		if !ok || next == x {
			return false
		}
		x = next
	}
	return false
}

// AnalyzeLoops computes dominators and the natural loop nest of f. Back
// edges are edges whose target dominates their source; loops sharing a
// header are merged.
func AnalyzeLoops(f *Function) *LoopInfo {
	li := &LoopInfo{inner: map[*Block]*Loop{}, idom: map[*Block]*Block{}}
	if f.External() {
		return li
	}
	order := postorder(f.Entry())
	rpoIndex := make(map[*Block]int, len(order))
	for i := range order {
		rpoIndex[order[len(order)-1-i]] = i
	}
	computeIdom(f.Entry(), order, rpoIndex, li.idom)

	byHeader := map[*Block]*Loop{}
	var loops []*Loop
	for _, b := range f.Blocks {
		if _, ok := rpoIndex[b]; !ok {
			continue
		}
		for _, h := range b.Succs() {
			if !li.Dominates(h, b) {
				continue
			}
			l := byHeader[h]
			if l == nil {
				l = &Loop{Header: h, set: map[*Block]bool{h: true}}
				byHeader[h] = l
				loops = append(loops, l)
			}
			collectLoop(l, b, li.idom)
		}
	}

	// Nest: the parent of a loop is the smallest other loop containing its
	// header.
	sort.SliceStable(loops, func(i, j int) bool { return len(loops[i].set) < len(loops[j].set) })
	for i, l := range loops {
		for _, p := range loops[i+1:] {
			if p.set[l.Header] {
				l.Parent = p
				p.Children = append(p.Children, l)
				break
			}
		}
		if l.Parent == nil {
			li.TopLevel = append(li.TopLevel, l)
		}
	}
	// Innermost loop per block: smallest loops first.
	for _, l := range loops {
		for b := range l.set {
			if li.inner[b] == nil {
				li.inner[b] = l
			}
		}
	}
	for _, l := range loops {
		for _, b := range f.Blocks {
			if l.set[b] && b != l.Header {
				l.Blocks = append(l.Blocks, b)
			}
		}
		l.Blocks = append([]*Block{l.Header}, l.Blocks...)
		sort.SliceStable(l.Children, func(i, j int) bool {
			return l.Children[i].Header.Index < l.Children[j].Header.Index
		})
	}
	sort.SliceStable(li.TopLevel, func(i, j int) bool {
		return li.TopLevel[i].Header.Index < li.TopLevel[j].Header.Index
	})
	return li
}

// collectLoop adds every block that reaches latch without passing through
// the header. Unreachable blocks are skipped.
func collectLoop(l *Loop, latch *Block, idom map[*Block]*Block) {
	work := []*Block{latch}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if _, reachable := idom[b]; l.set[b] || !reachable {
			continue
		}
		l.set[b] = true
		work = append(work, b.Preds()...)
	}
}

func postorder(entry *Block) []*Block {
	var order []*Block
	seen := map[*Block]bool{}
	var visit func(b *Block)
	visit = func(b *Block) {
		seen[b] = true
		for _, s := range b.Succs() {
			if !seen[s] {
				visit(s)
			}
		}
		order = append(order, b)
	}
	visit(entry)
	return order
}

// computeIdom is the iterative algorithm of Cooper, Harvey and Kennedy.
func computeIdom(entry *Block, post []*Block, rpo map[*Block]int, idom map[*Block]*Block) {
	idom[entry] = entry
	intersect := func(a, b *Block) *Block {
		for a != b {
			for rpo[a] > rpo[b] {
				a = idom[a]
			}
			for rpo[b] > rpo[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for i := len(post) - 1; i >= 0; i-- {
			b := post[i]
			if b == entry {
				continue
			}
			var nd *Block
			for _, p := range b.Preds() {
				if _, ok := idom[p]; !ok {
					continue
				}
				if nd == nil {
					nd = p
				} else {
					nd = intersect(p, nd)
				}
			}
			if nd != nil && idom[b] != nd {
				idom[b] = nd
				changed = true
			}
		}
	}
}
