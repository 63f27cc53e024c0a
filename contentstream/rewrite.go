package contentstream

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/wudi/colorkit/format"
)

// Device color operators per space: fill, stroke.
var colorOperators = map[format.ColorSpace][2]string{
	format.Gray: {"g", "G"},
	format.RGB:  {"rg", "RG"},
	format.CMYK: {"k", "K"},
}

// ColorConverter converts count colors given as consecutive component
// tuples in [0,1] and returns count destination tuples in [0,1].
type ColorConverter func(ctx context.Context, values []float64, count int) ([]float64, error)

type colorEdit struct {
	start, end int
	stroke     bool
}

// RewriteColors replaces every device color operator of space from with the
// equivalent operator of space to. All colors go to convert in one batch.
// Operators with malformed operands are left untouched. It returns the new
// stream and the number of operators rewritten.
func RewriteColors(ctx context.Context, stream []byte, from, to format.ColorSpace, convert ColorConverter) ([]byte, int, error) {
	srcOps, ok := colorOperators[from]
	if !ok {
		return nil, 0, fmt.Errorf("contentstream: no device color operators for %s", from)
	}
	dstOps, ok := colorOperators[to]
	if !ok {
		return nil, 0, fmt.Errorf("contentstream: no device color operators for %s", to)
	}
	inCh, outCh := from.Channels(), to.Channels()

	var (
		edits  []colorEdit
		values []float64
	)
	collect := func(stroke bool) HandlerFunc {
		return func(_ *ExecutionContext, op Operation) error {
			if len(op.Operands) != inCh {
				return nil
			}
			vals := make([]float64, inCh)
			for i, t := range op.Operands {
				v, ok := t.Float()
				if !ok {
					return nil
				}
				vals[i] = v
			}
			values = append(values, vals...)
			edits = append(edits, colorEdit{start: op.Start, end: op.End, stroke: stroke})
			return nil
		}
	}
	p := NewProcessor()
	p.RegisterHandler(srcOps[0], collect(false))
	p.RegisterHandler(srcOps[1], collect(true))
	if err := p.Process(ctx, stream); err != nil {
		return nil, 0, err
	}
	if len(edits) == 0 {
		return stream, 0, nil
	}

	out, err := convert(ctx, values, len(edits))
	if err != nil {
		return nil, 0, err
	}
	if len(out) != len(edits)*outCh {
		return nil, 0, fmt.Errorf("contentstream: converter returned %d values for %d colors", len(out), len(edits))
	}

	var buf bytes.Buffer
	buf.Grow(len(stream) + len(edits)*8)
	last := 0
	for i, e := range edits {
		buf.Write(stream[last:e.start])
		for _, v := range out[i*outCh : (i+1)*outCh] {
			buf.WriteString(formatComponent(v))
			buf.WriteByte(' ')
		}
		if e.stroke {
			buf.WriteString(dstOps[1])
		} else {
			buf.WriteString(dstOps[0])
		}
		last = e.end
	}
	buf.Write(stream[last:])
	return buf.Bytes(), len(edits), nil
}

func formatComponent(v float64) string {
	v = math.Round(math.Max(0, math.Min(1, v))*10000) / 10000
	return strconv.FormatFloat(v, 'f', -1, 64)
}
