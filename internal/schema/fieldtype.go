package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// FieldType is a parsed networked type string such as
// "CNetworkUtlVectorBase< CHandle< CBaseEntity > >" or "uint32[8]".
type FieldType struct {
	BaseType string
	Generic  *FieldType
	Pointer  bool
	Count    int
}

var fieldTypeRe = regexp.MustCompile(`([^<\[\*]+)(<\s(.*)\s>)?(\*)?(\[(.*)\])?`)

// named array bounds that appear in place of numeric counts
var namedCounts = map[string]int{
	"MAX_ITEM_STOCKS":             8,
	"MAX_ABILITY_DRAFT_ABILITIES": 48,
}

// ParseFieldType parses a networked type string.
func ParseFieldType(name string) *FieldType {
	m := fieldTypeRe.FindStringSubmatch(name)
	if m == nil {
		return &FieldType{BaseType: name}
	}
	ft := &FieldType{
		BaseType: strings.TrimSpace(m[1]),
		Pointer:  m[4] == "*",
	}
	if m[3] != "" {
		ft.Generic = ParseFieldType(m[3])
	}
	if n, ok := namedCounts[m[6]]; ok {
		ft.Count = n
	} else if n, err := strconv.Atoi(m[6]); err == nil && n > 0 {
		ft.Count = n
	} else if m[6] != "" {
		ft.Count = 1024
	}
	return ft
}

func (ft *FieldType) String() string {
	s := ft.BaseType
	if ft.Generic != nil {
		s += "< " + ft.Generic.String() + " >"
	}
	if ft.Pointer {
		s += "*"
	}
	if ft.Count > 0 {
		s += "[" + strconv.Itoa(ft.Count) + "]"
	}
	return s
}
