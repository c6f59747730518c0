package codec

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
)

var compareOptions = []cmp.Option{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmpopts.EquateEmpty(),
}

type diffReporter struct {
	path  cmp.Path
	diffs []string
}

func (r *diffReporter) PushStep(ps cmp.PathStep) {
	r.path = append(r.path, ps)
}

func (r *diffReporter) Report(rs cmp.Result) {
	if !rs.Equal() {
		vx, vy := r.path.Last().Values()
		r.diffs = append(r.diffs, fmt.Sprintf("%#v: %+v != %+v", r.path, vx, vy))
	}
}

func (r *diffReporter) PopStep() {
	r.path = r.path[:len(r.path)-1]
}

// CheckEventSerializeChanges serializes v, reads it back and returns the number of structural
// differences between both values together with their paths. A lossless type yields zero
func CheckEventSerializeChanges[T any](v T) (int, []string, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, nil, fmt.Errorf("serialize %T: %w", v, err)
	}
	var back T
	if err := Unmarshal(data, &back); err != nil {
		return 0, nil, fmt.Errorf("deserialize %T: %w", v, err)
	}
	r := &diffReporter{}
	cmp.Equal(v, back, append(compareOptions, cmp.Reporter(r))...)
	return len(r.diffs), r.diffs, nil
}
