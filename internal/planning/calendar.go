package planning

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// unknownIterationNumber ranks iteration names that carry no ordinal.
const unknownIterationNumber = 999

var firstNumber = regexp.MustCompile(`\d+`)

// Calendar is the ordered list of iterations in a planning run. The position of
// a name in the list is its ordinal; names are never compared by their text.
type Calendar struct {
	names []string
	index map[string]int
}

func NewCalendar(names []string) (Calendar, error) {
	if len(names) == 0 {
		return Calendar{}, errors.New("at least one iteration is required")
	}
	c := Calendar{names: make([]string, len(names)), index: make(map[string]int, len(names))}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return Calendar{}, fmt.Errorf("iteration %d has an empty name", i+1)
		}
		if _, dup := c.index[name]; dup {
			return Calendar{}, fmt.Errorf("iteration %q listed twice", name)
		}
		c.names[i] = name
		c.index[name] = i
	}
	return c, nil
}

func (c Calendar) Len() int { return len(c.names) }

func (c Calendar) At(i int) string { return c.names[i] }

// Names returns a copy of the iteration names in order.
func (c Calendar) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

func (c Calendar) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Rank orders iterations for dependency comparisons. Names outside the
// calendar rank after every known iteration, so they never satisfy a
// "scheduled earlier" check.
func (c Calendar) Rank(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return math.MaxInt
}

// Next returns the iteration following name, if there is one.
func (c Calendar) Next(name string) (string, bool) {
	i, ok := c.index[name]
	if !ok || i+1 >= len(c.names) {
		return "", false
	}
	return c.names[i+1], true
}

// Number is the 1-based ordinal used for deadline urgency. Names outside the
// calendar fall back to their first embedded integer, then to 999.
func (c Calendar) Number(name string) int {
	if i, ok := c.index[name]; ok {
		return i + 1
	}
	return IterationNumber(name)
}

// IterationNumber extracts the first integer embedded in an iteration name.
func IterationNumber(name string) int {
	m := firstNumber.FindString(name)
	if m == "" {
		return unknownIterationNumber
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return unknownIterationNumber
	}
	return n
}
