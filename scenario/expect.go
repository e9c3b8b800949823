package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andypeng2015/esgc/gc"
)

// counters are the heap quantities expect can compare with a number.
var counters = map[string]func(ms *gc.MemStats) uint64{
	"live":        func(ms *gc.MemStats) uint64 { return ms.Alloc },
	"external":    func(ms *gc.MemStats) uint64 { return ms.External },
	"objects":     func(ms *gc.MemStats) uint64 { return ms.HeapObjects },
	"chunks":      func(ms *gc.MemStats) uint64 { return uint64(ms.Chunks) },
	"collections": func(ms *gc.MemStats) uint64 { return uint64(ms.NumGC) },
	"pinned":      func(ms *gc.MemStats) uint64 { return uint64(ms.DynamicRoots) },
	"runtimes":    func(ms *gc.MemStats) uint64 { return uint64(ms.Runtimes) },
	"weak":        func(ms *gc.MemStats) uint64 { return ms.WeakCleared },
	"rescans":     func(ms *gc.MemStats) uint64 { return ms.MarkRescans },
}

// compare evaluates "got OP want" for OP one of == != < <= > >=.
func compare(got uint64, op string, want uint64) (bool, error) {
	switch op {
	case "==":
		return got == want, nil
	case "!=":
		return got != want, nil
	case "<":
		return got < want, nil
	case "<=":
		return got <= want, nil
	case ">":
		return got > want, nil
	case ">=":
		return got >= want, nil
	}
	return false, fmt.Errorf("unknown comparison %q", op)
}

// expect COUNTER [OP] N
// expect alive|dead VAR...
// expect string VAR TEXT...
// expect count ARRAY N
// expect prop OBJECT NAME VALUE
// expect instances CLASS N
// expect reason REASON
func (r *Runner) cmdExpect(args []string) error {
	h := r.heap
	switch args[0] {
	case "alive", "dead":
		want := args[0] == "alive"
		for _, name := range args[1:] {
			ref, err := r.ref(name)
			if err != nil {
				return err
			}
			if h.Contains(ref) != want {
				return fmt.Errorf("expected %s to be %s", name, args[0])
			}
		}
		return nil
	case "string":
		ref, err := r.ref(args[1])
		if err != nil {
			return err
		}
		want := strings.Join(args[2:], " ")
		if got := h.StringContent(ref); got != want {
			return fmt.Errorf("string %s: got %q, want %q", args[1], got, want)
		}
		return nil
	case "count", "instances":
		if len(args) != 3 {
			return fmt.Errorf("expect %s: %w", args[0], errUsage)
		}
		ref, err := r.ref(args[1])
		if err != nil {
			return err
		}
		want, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		var got int
		if args[0] == "count" {
			got = h.Count(ref)
		} else {
			got = len(h.Instances(ref))
		}
		if got != want {
			return fmt.Errorf("%s of %s: got %d, want %d", args[0], args[1], got, want)
		}
		return nil
	case "prop":
		if len(args) != 4 {
			return fmt.Errorf("expect prop: %w", errUsage)
		}
		obj, err := r.ref(args[1])
		if err != nil {
			return err
		}
		want, err := r.value(args[3])
		if err != nil {
			return err
		}
		got, _ := h.GetProperty(obj, args[2])
		if got != want {
			return fmt.Errorf("property %s.%s: got %s, want %s", args[1], args[2], r.format(got), r.format(want))
		}
		return nil
	case "reason":
		if got := h.LastTrace().Reason.String(); got != args[1] {
			return fmt.Errorf("last collection reason: got %s, want %s", got, args[1])
		}
		return nil
	}

	get, ok := counters[args[0]]
	if !ok {
		return fmt.Errorf("expect: unknown quantity %q", args[0])
	}
	op, operand := "==", args[1]
	if len(args) == 3 {
		op, operand = args[1], args[2]
	}
	want, err := strconv.ParseUint(operand, 10, 64)
	if err != nil {
		return err
	}
	var ms gc.MemStats
	h.ReadMemStats(&ms)
	got := get(&ms)
	ok, err = compare(got, op, want)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: got %d, want %s %d", args[0], got, op, want)
	}
	return nil
}
