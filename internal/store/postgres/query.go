package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

// filter builds WHERE clauses with numbered placeholders.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *filter) timeRange(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		f.add(column+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		f.add(column+" <= $%d", *opts.Until)
	}
}

// build renders base + WHERE + order + LIMIT/OFFSET.
func (f *filter) build(base, orderBy string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	if len(f.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.conds, " AND "))
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	args := f.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
