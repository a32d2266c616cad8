package entities

import (
	"container/heap"
	"fmt"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/errs"
	"cs2-demo-pipeline/internal/schema"
)

// FieldPath addresses one property inside a class serializer.
type FieldPath struct {
	path [schema.MaxPathDepth]int
	last int
	done bool
}

func newFieldPath() FieldPath {
	fp := FieldPath{}
	fp.path[0] = -1
	return fp
}

// Indices returns the path components.
func (fp *FieldPath) Indices() []int { return fp.path[:fp.last+1] }

func (fp *FieldPath) pop(n int) {
	for i := 0; i < n && fp.last >= 0; i++ {
		fp.path[fp.last] = 0
		fp.last--
	}
}

func (fp *FieldPath) push(v int) {
	fp.last++
	if fp.last < len(fp.path) {
		fp.path[fp.last] = v
	}
}

func (fp *FieldPath) valid() bool {
	return fp.last >= 0 && fp.last < len(fp.path)
}

type fieldOp struct {
	name   string
	weight int
	fn     func(r *bitread.Reader, fp *FieldPath)
}

func pushUBV(n int) func(r *bitread.Reader, fp *FieldPath) {
	return func(r *bitread.Reader, fp *FieldPath) {
		for i := 0; i < n; i++ {
			fp.push(r.ReadUBitVarFieldPath())
		}
	}
}

func pushBits5(r *bitread.Reader, fp *FieldPath, n int) {
	for i := 0; i < n; i++ {
		fp.push(int(r.ReadBits(5)))
	}
}

func nonTopo(r *bitread.Reader, fp *FieldPath, delta func() int) {
	for i := 0; i <= fp.last && i < len(fp.path); i++ {
		if r.ReadBool() {
			fp.path[i] += delta()
		}
	}
}

var fieldOps = []fieldOp{
	{"PlusOne", 36271, func(r *bitread.Reader, fp *FieldPath) { fp.path[fp.last]++ }},
	{"PlusTwo", 10334, func(r *bitread.Reader, fp *FieldPath) { fp.path[fp.last] += 2 }},
	{"PlusThree", 1375, func(r *bitread.Reader, fp *FieldPath) { fp.path[fp.last] += 3 }},
	{"PlusFour", 646, func(r *bitread.Reader, fp *FieldPath) { fp.path[fp.last] += 4 }},
	{"PlusN", 4128, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += r.ReadUBitVarFieldPath() + 5
	}},
	{"PushOneLeftDeltaZeroRightZero", 35, func(r *bitread.Reader, fp *FieldPath) { fp.push(0) }},
	{"PushOneLeftDeltaZeroRightNonZero", 3, func(r *bitread.Reader, fp *FieldPath) {
		fp.push(r.ReadUBitVarFieldPath())
	}},
	{"PushOneLeftDeltaOneRightZero", 521, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last]++
		fp.push(0)
	}},
	{"PushOneLeftDeltaOneRightNonZero", 2942, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last]++
		fp.push(r.ReadUBitVarFieldPath())
	}},
	{"PushOneLeftDeltaNRightZero", 560, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += r.ReadUBitVarFieldPath()
		fp.push(0)
	}},
	{"PushOneLeftDeltaNRightNonZero", 471, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += r.ReadUBitVarFieldPath() + 2
		fp.push(r.ReadUBitVarFieldPath() + 1)
	}},
	{"PushOneLeftDeltaNRightNonZeroPack6Bits", 10530, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += int(r.ReadBits(3)) + 2
		fp.push(int(r.ReadBits(3)) + 1)
	}},
	{"PushOneLeftDeltaNRightNonZeroPack8Bits", 251, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += int(r.ReadBits(4)) + 2
		fp.push(int(r.ReadBits(4)) + 1)
	}},
	{"PushTwoLeftDeltaZero", 0, pushUBV(2)},
	{"PushTwoPack5LeftDeltaZero", 0, func(r *bitread.Reader, fp *FieldPath) { pushBits5(r, fp, 2) }},
	{"PushThreeLeftDeltaZero", 0, pushUBV(3)},
	{"PushThreePack5LeftDeltaZero", 0, func(r *bitread.Reader, fp *FieldPath) { pushBits5(r, fp, 3) }},
	{"PushTwoLeftDeltaOne", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last]++
		pushUBV(2)(r, fp)
	}},
	{"PushTwoPack5LeftDeltaOne", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last]++
		pushBits5(r, fp, 2)
	}},
	{"PushThreeLeftDeltaOne", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last]++
		pushUBV(3)(r, fp)
	}},
	{"PushThreePack5LeftDeltaOne", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last]++
		pushBits5(r, fp, 3)
	}},
	{"PushTwoLeftDeltaN", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += int(r.ReadUBitVar()) + 2
		pushUBV(2)(r, fp)
	}},
	{"PushTwoPack5LeftDeltaN", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += int(r.ReadUBitVar()) + 2
		pushBits5(r, fp, 2)
	}},
	{"PushThreeLeftDeltaN", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += int(r.ReadUBitVar()) + 2
		pushUBV(3)(r, fp)
	}},
	{"PushThreePack5LeftDeltaN", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.path[fp.last] += int(r.ReadUBitVar()) + 2
		pushBits5(r, fp, 3)
	}},
	{"PushN", 0, func(r *bitread.Reader, fp *FieldPath) {
		n := int(r.ReadUBitVar())
		fp.path[fp.last] += int(r.ReadUBitVar())
		for i := 0; i < n && fp.last < len(fp.path)-1; i++ {
			fp.last++
			fp.path[fp.last] += r.ReadUBitVarFieldPath()
		}
	}},
	{"PushNAndNonTopological", 310, func(r *bitread.Reader, fp *FieldPath) {
		nonTopo(r, fp, func() int { return int(r.ReadVarInt32()) + 1 })
		count := int(r.ReadUBitVar())
		for i := 0; i < count && fp.last < len(fp.path); i++ {
			fp.push(r.ReadUBitVarFieldPath())
		}
	}},
	{"PopOnePlusOne", 2, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(1)
		if fp.valid() {
			fp.path[fp.last]++
		}
	}},
	{"PopOnePlusN", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(1)
		if fp.valid() {
			fp.path[fp.last] += r.ReadUBitVarFieldPath() + 1
		}
	}},
	{"PopAllButOnePlusOne", 1837, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(fp.last)
		fp.path[0]++
	}},
	{"PopAllButOnePlusN", 149, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(fp.last)
		fp.path[0] += r.ReadUBitVarFieldPath() + 1
	}},
	{"PopAllButOnePlusNPack3Bits", 300, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(fp.last)
		fp.path[0] += int(r.ReadBits(3)) + 1
	}},
	{"PopAllButOnePlusNPack6Bits", 634, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(fp.last)
		fp.path[0] += int(r.ReadBits(6)) + 1
	}},
	{"PopNPlusOne", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(r.ReadUBitVarFieldPath())
		if fp.valid() {
			fp.path[fp.last]++
		}
	}},
	{"PopNPlusN", 0, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(r.ReadUBitVarFieldPath())
		if fp.valid() {
			fp.path[fp.last] += int(r.ReadVarInt32())
		}
	}},
	{"PopNAndNonTopographical", 1, func(r *bitread.Reader, fp *FieldPath) {
		fp.pop(r.ReadUBitVarFieldPath())
		nonTopo(r, fp, func() int { return int(r.ReadVarInt32()) })
	}},
	{"NonTopoComplex", 76, func(r *bitread.Reader, fp *FieldPath) {
		nonTopo(r, fp, func() int { return int(r.ReadVarInt32()) })
	}},
	{"NonTopoPenultimatePlusOne", 271, func(r *bitread.Reader, fp *FieldPath) {
		if fp.last >= 1 {
			fp.path[fp.last-1]++
		}
	}},
	{"NonTopoComplexPack4Bits", 99, func(r *bitread.Reader, fp *FieldPath) {
		nonTopo(r, fp, func() int { return int(r.ReadBits(4)) - 7 })
	}},
	{"FieldPathEncodeFinish", 25474, func(r *bitread.Reader, fp *FieldPath) { fp.done = true }},
}

// huffman prefix tree over fieldOps; leaves carry op indices
type huffNode struct {
	weight int
	value  int
	left   *huffNode
	right  *huffNode
}

func (n *huffNode) leaf() bool { return n.left == nil && n.right == nil }

type huffHeap []*huffNode

func (h huffHeap) Len() int { return len(h) }
func (h huffHeap) Less(i, j int) bool {
	if h[i].weight == h[j].weight {
		return h[i].value >= h[j].value
	}
	return h[i].weight < h[j].weight
}
func (h huffHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *huffHeap) Push(x any) { *h = append(*h, x.(*huffNode)) }
func (h *huffHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

func buildHuffman(weights []int) *huffNode {
	h := make(huffHeap, 0, len(weights))
	for v, w := range weights {
		if w == 0 {
			w = 1
		}
		h = append(h, &huffNode{weight: w, value: v})
	}
	heap.Init(&h)
	next := len(weights)
	for h.Len() > 1 {
		a := heap.Pop(&h).(*huffNode)
		b := heap.Pop(&h).(*huffNode)
		heap.Push(&h, &huffNode{weight: a.weight + b.weight, value: next, left: a, right: b})
		next++
	}
	return heap.Pop(&h).(*huffNode)
}

// built once, shared read-only by every demo
var fieldOpTree = func() *huffNode {
	weights := make([]int, len(fieldOps))
	for i, op := range fieldOps {
		weights[i] = op.weight
	}
	return buildHuffman(weights)
}()

// ReadFieldPaths decodes the field path list that precedes an entity's
// values. The returned paths are appended to dst.
func ReadFieldPaths(r *bitread.Reader, dst []FieldPath) ([]FieldPath, error) {
	fp := newFieldPath()
	node := fieldOpTree
	for !fp.done {
		if r.ReadBool() {
			node = node.right
		} else {
			node = node.left
		}
		if err := r.Err(); err != nil {
			return dst, err
		}
		if !node.leaf() {
			continue
		}
		op := node.value
		node = fieldOpTree
		if !fp.valid() {
			return dst, fmt.Errorf("field path underflow before %s: %w", fieldOps[op].name, errs.ErrMalformedMessage)
		}
		fieldOps[op].fn(r, &fp)
		if err := r.Err(); err != nil {
			return dst, err
		}
		if fp.done {
			break
		}
		if !fp.valid() {
			return dst, fmt.Errorf("field path depth %d after %s: %w", fp.last+1, fieldOps[op].name, errs.ErrMalformedMessage)
		}
		dst = append(dst, fp)
	}
	return dst, nil
}
