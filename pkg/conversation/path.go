package conversation

import (
	"strconv"
	"strings"
)

// Path selects one child per level below the root. The empty path denotes the root.
type Path []int

func (p Path) Clone() Path {
	if p == nil {
		return Path{}
	}
	ret := make(Path, len(p))
	copy(ret, p)
	return ret
}

// Parent returns the path of the parent node. The root's parent is the root itself,
// callers check IsRoot first.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[:len(p)-1].Clone()
}

// Child returns a new path extended by idx, leaving p untouched.
func (p Path) Child(idx int) Path {
	ret := make(Path, len(p), len(p)+1)
	copy(ret, p)
	return append(ret, idx)
}

func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Last returns the final index and false for the root path.
func (p Path) Last() (int, bool) {
	if len(p) == 0 {
		return 0, false
	}
	return p[len(p)-1], true
}

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// cycleIndex moves idx by delta within [0, count), wrapping in both directions.
func cycleIndex(idx, delta, count int) int {
	ret := (idx + delta) % count
	if ret < 0 {
		ret += count
	}
	return ret
}
