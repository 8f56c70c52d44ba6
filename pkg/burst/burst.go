// Package burst compiles the ordered register list of a single Readable
// ("task") into a minimum-count, minimum-size sequence of consecutive-
// register Modbus reads ("bursts"), bounded by a device's maximum burst
// size, plus a mapping from task position back to the offset in the
// concatenated read buffer where that register's value lands.
package burst

import (
	"fmt"
	"sort"

	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

// Kind distinguishes the two Modbus register address spaces this adapter reads.
type Kind int

const (
	Holding Kind = iota
	Input
)

func (k Kind) String() string {
	if k == Holding {
		return "holding"
	}
	return "input"
}

// Burst is a single read of Length consecutive registers of Kind, starting
// at register Start.
type Burst struct {
	Start  uint16
	Kind   Kind
	Length uint16
}

// Plan is the compiled output for one task: an ordered list of bursts plus
// the task-position -> buffer-offset mapping.
type Plan struct {
	Bursts           []Burst
	TaskToPlan       []int
	NumPlanRegisters int
}

// Compile builds a Plan for task against a device's two readable register
// sets, bounded by maxBurstSize. Every register in task must belong to
// exactly one of holding/input; otherwise a *errors.ConfigurationError is
// returned.
func Compile(task []uint16, holding, input registerset.Set, maxBurstSize uint16) (*Plan, error) {
	if maxBurstSize == 0 {
		return nil, adaptererrors.NewConfigurationError("burst.Compile", fmt.Errorf("max_burst_size must be >= 1"), "burst_size")
	}

	kindOf := make(map[uint16]Kind, len(task))
	for _, r := range task {
		if _, seen := kindOf[r]; seen {
			continue
		}
		inHolding := holding.Contains(r)
		inInput := input.Contains(r)
		switch {
		case inHolding && !inInput:
			kindOf[r] = Holding
		case inInput && !inHolding:
			kindOf[r] = Input
		default:
			return nil, adaptererrors.NewConfigurationError(
				"burst.Compile",
				fmt.Errorf("register %d is not in exactly one readable set (holding=%v input=%v)", r, inHolding, inInput),
				"registers",
			)
		}
	}

	distinctByKind := map[Kind][]uint16{}
	seen := map[uint16]bool{}
	for _, r := range task {
		if seen[r] {
			continue
		}
		seen[r] = true
		k := kindOf[r]
		distinctByKind[k] = append(distinctByKind[k], r)
	}
	for k := range distinctByKind {
		sort.Slice(distinctByKind[k], func(i, j int) bool { return distinctByKind[k][i] < distinctByKind[k][j] })
	}

	var bursts []Burst
	burstOffset := map[uint16]int{} // register -> plan buffer offset
	total := 0

	for _, k := range []Kind{Holding, Input} {
		regs := distinctByKind[k]
		if len(regs) == 0 {
			continue
		}
		start := regs[0]
		prev := regs[0]
		burstBase := total
		burstOffset[regs[0]] = total
		length := uint16(1)
		for _, r := range regs[1:] {
			if r < start+maxBurstSize {
				length = r - start + 1
				burstOffset[r] = burstBase + int(r-start)
				prev = r
				continue
			}
			bursts = append(bursts, Burst{Start: start, Kind: k, Length: length})
			total += int(length)
			start = r
			prev = r
			burstBase = total
			burstOffset[r] = total
			length = 1
		}
		bursts = append(bursts, Burst{Start: start, Kind: k, Length: length})
		total += int(length)
		_ = prev
	}

	taskToPlan := make([]int, len(task))
	for i, r := range task {
		taskToPlan[i] = burstOffset[r]
	}

	return &Plan{Bursts: bursts, TaskToPlan: taskToPlan, NumPlanRegisters: total}, nil
}

// Buffer bundles a compiled Plan with the scratch arrays used at read time:
// Padded (one slot per plan register, the burst write target) and Compact
// (one slot per task entry, gathered via TaskToPlan for the decoder).
type Buffer struct {
	Plan    *Plan
	Padded  []uint16
	Compact []uint16
}

// NewBuffer compiles task and allocates its scratch arrays.
func NewBuffer(task []uint16, holding, input registerset.Set, maxBurstSize uint16) (*Buffer, error) {
	plan, err := Compile(task, holding, input, maxBurstSize)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		Plan:    plan,
		Padded:  make([]uint16, plan.NumPlanRegisters),
		Compact: make([]uint16, len(task)),
	}, nil
}

// Gather copies each task[i]'s value out of Padded (via TaskToPlan) into
// Compact, ready to be handed to a decoder.
func (b *Buffer) Gather() []uint16 {
	for i, off := range b.Plan.TaskToPlan {
		b.Compact[i] = b.Padded[off]
	}
	return b.Compact
}
