package convert

import (
	"github.com/wudi/colorkit/cmm"
	"github.com/wudi/colorkit/format"
	"github.com/wudi/colorkit/task"
)

// TaskInput is an operation a caller would like to run on a worker.
type TaskInput struct {
	Type    task.Type
	Options Options
	// Pixels feed transform and benchmark tasks; Payload feeds image
	// (Flate-compressed pixels) and content-stream tasks.
	Pixels     []byte
	Payload    []byte
	Iterations int
}

// PrepareTask converts in to a worker task. It returns nil when the
// operation has no parallel-safe form; the caller then converts in process.
// Buffers are moved into the task, not copied.
func (c *Converter) PrepareTask(in TaskInput) *task.Task {
	t := &task.Task{
		Type:                   in.Type,
		Format:                 in.Options.Options,
		RenderingIntent:        in.Options.RenderingIntent,
		BlackPointCompensation: in.Options.BlackPointCompensation,
		AdaptiveClamping:       in.Options.AdaptiveClamping || in.Options.Flags.Has(cmm.FlagBPCClamping),
	}
	switch in.Type {
	case task.TypeTransform:
		if len(in.Pixels) == 0 {
			return nil
		}
		t.Pixels = in.Pixels
	case task.TypeBenchmark:
		if len(in.Pixels) == 0 {
			return nil
		}
		t.Pixels = in.Pixels
		t.Iterations = max(1, in.Iterations)
	case task.TypeImage:
		if len(in.Payload) == 0 {
			return nil
		}
		t.Payload = in.Payload
	case task.TypeContentStream:
		if len(in.Payload) == 0 || !deviceOperatorSpace(in.Options.InputColorSpace) || !deviceOperatorSpace(in.Options.OutputColorSpace) {
			return nil
		}
		t.Payload = in.Payload
	default:
		return nil
	}
	// Extra flags have no task field.
	if in.Options.Flags&^cmm.FlagBPCClamping != 0 {
		return nil
	}

	var ok bool
	if t.Source, ok = profileRef(in.Options.SourceProfile, in.Options.InputColorSpace); !ok {
		return nil
	}
	if t.Destination, ok = profileRef(in.Options.DestinationProfile, in.Options.OutputColorSpace); !ok {
		return nil
	}
	for _, s := range in.Options.IntermediateProfiles {
		ref, ok := profileRef(s, "")
		if !ok {
			return nil
		}
		t.Intermediates = append(t.Intermediates, ref)
	}
	return t
}

// profileRef maps a source to its task form. Device data without a profile
// has no form at all.
func profileRef(s cmm.ProfileSource, space format.ColorSpace) (task.ProfileRef, bool) {
	switch {
	case s.Builtin != cmm.BuiltinNone:
		return task.ProfileRef{Builtin: s.Builtin}, true
	case len(s.Data) > 0:
		return task.ProfileRef{Data: s.Data}, true
	case s.Location != "":
		return task.ProfileRef{Location: s.Location}, true
	case space == format.Lab:
		return task.ProfileRef{Builtin: cmm.BuiltinLab}, true
	}
	return task.ProfileRef{}, false
}

// deviceOperatorSpace reports spaces with content-stream color operators.
func deviceOperatorSpace(cs format.ColorSpace) bool {
	return cs == format.Gray || cs == format.RGB || cs == format.CMYK
}
