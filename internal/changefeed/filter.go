package changefeed

import "fmt"

// Filter selects events of one table, optionally narrowed to rows whose Column
// equals Value. When Accept is set it decides on the Column value instead.
type Filter struct {
	Table  string
	Column string
	Value  string
	Accept func(value string) bool
}

// Match reports whether the event passes the filter
func (f Filter) Match(e Event) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	row := e.Row()
	if row == nil {
		return false
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	if f.Accept != nil {
		return f.Accept(stringify(v))
	}
	return stringify(v) == f.Value
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
