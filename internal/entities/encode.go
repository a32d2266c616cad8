package entities

import "cs2-demo-pipeline/internal/bitread"

// fieldOpCodes maps every op name to its prefix code, root first.
var fieldOpCodes = func() map[string][]bool {
	codes := make(map[string][]bool, len(fieldOps))
	var walk func(n *huffNode, prefix []bool)
	walk = func(n *huffNode, prefix []bool) {
		if n.leaf() {
			codes[fieldOps[n.value].name] = append([]bool(nil), prefix...)
			return
		}
		walk(n.left, append(prefix, false))
		walk(n.right, append(prefix, true))
	}
	walk(fieldOpTree, nil)
	return codes
}()

func writeFieldOp(w *bitread.Writer, name string) {
	for _, b := range fieldOpCodes[name] {
		w.WriteBool(b)
	}
}

// WriteFieldPaths encodes an ordered path list with the generic
// non-topological ops, terminated by the finish op. ReadFieldPaths decodes
// the result back to the same paths.
func WriteFieldPaths(w *bitread.Writer, paths [][]int) {
	cur := []int{-1}
	for _, t := range paths {
		if len(t) >= len(cur) {
			writeFieldOp(w, "PushNAndNonTopological")
			for i := range cur {
				if d := t[i] - cur[i]; d != 0 {
					w.WriteBool(true)
					w.WriteVarInt32(int32(d - 1))
				} else {
					w.WriteBool(false)
				}
			}
			w.WriteUBitVar(uint32(len(t) - len(cur)))
			for _, v := range t[len(cur):] {
				w.WriteUBitVarFieldPath(uint32(v))
			}
		} else {
			writeFieldOp(w, "PopNAndNonTopographical")
			w.WriteUBitVarFieldPath(uint32(len(cur) - len(t)))
			for i := range t {
				if d := t[i] - cur[i]; d != 0 {
					w.WriteBool(true)
					w.WriteVarInt32(int32(d))
				} else {
					w.WriteBool(false)
				}
			}
		}
		cur = append(cur[:0], t...)
	}
	writeFieldOp(w, "FieldPathEncodeFinish")
}
