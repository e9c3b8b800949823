package scenario

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/andypeng2015/esgc/gc"
	"github.com/andypeng2015/esgc/gc/debug"
	"github.com/andypeng2015/esgc/internal/gclayout"
	"github.com/google/shlex"
)

var (
	errUsage      = errors.New("wrong number of arguments")
	errUnknownVar = errors.New("unknown variable")
)

// Runner executes scenario commands on one heap through one context.
// Variables name objects but do not keep them alive: an object survives a
// collection only if it is pinned, pushed to a register or reachable from
// a runtime's global object.
type Runner struct {
	heap     *gc.Heap
	ctx      *gc.Context
	out      io.Writer
	vars     map[string]gc.Ref
	runtimes map[string]*gc.Runtime
	locks    []*gc.CollectorLock
}

type command struct {
	args int // minimum number of arguments
	run  func(r *Runner, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"append":    {2, (*Runner).cmdAppend},
		"array":     {1, (*Runner).cmdArray},
		"buffer":    {2, (*Runner).cmdBuffer},
		"class":     {2, (*Runner).cmdClass},
		"code":      {3, (*Runner).cmdCode},
		"collect":   {0, (*Runner).cmdCollect},
		"concat":    {3, (*Runner).cmdConcat},
		"detach":    {1, (*Runner).cmdDetach},
		"dump":      {0, (*Runner).cmdDump},
		"echo":      {0, (*Runner).cmdEcho},
		"expect":    {2, (*Runner).cmdExpect},
		"external":  {1, (*Runner).cmdExternal},
		"function":  {2, (*Runner).cmdFunction},
		"garbage":   {2, (*Runner).cmdGarbage},
		"get":       {2, (*Runner).cmdGet},
		"global":    {2, (*Runner).cmdGlobal},
		"lock":      {0, (*Runner).cmdLock},
		"object":    {1, (*Runner).cmdObject},
		"pin":       {1, (*Runner).cmdPin},
		"push":      {1, (*Runner).cmdPush},
		"runtime":   {1, (*Runner).cmdRuntime},
		"scope":     {1, (*Runner).cmdScope},
		"set":       {3, (*Runner).cmdSet},
		"stats":     {0, (*Runner).cmdStats},
		"string":    {1, (*Runner).cmdString},
		"unlock":    {0, (*Runner).cmdUnlock},
		"unpin":     {1, (*Runner).cmdUnpin},
		"verify":    {0, (*Runner).cmdVerify},
		"weakarray": {1, (*Runner).cmdWeakArray},
	}
}

// Commands returns the names of all commands, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRunner creates a heap with cfg, registered with mgr if it is not nil,
// and opens a context on it.
func NewRunner(mgr *gc.HeapManager, cfg gc.Config, out io.Writer) *Runner {
	h := gc.NewHeap(mgr, nil, cfg)
	return &Runner{
		heap:     h,
		ctx:      h.NewContext(nil),
		out:      out,
		vars:     make(map[string]gc.Ref),
		runtimes: make(map[string]*gc.Runtime),
	}
}

// Heap returns the heap the runner works on.
func (r *Runner) Heap() *gc.Heap { return r.heap }

// Lookup returns the object a variable names.
func (r *Runner) Lookup(name string) (gc.Ref, bool) {
	ref, ok := r.vars[name]
	return ref, ok
}

// Close releases every lock, closes the context and destroys the heap.
func (r *Runner) Close() {
	if r.heap.Destroyed() {
		return
	}
	for i := len(r.locks) - 1; i >= 0; i-- {
		r.locks[i].Unlock(false)
	}
	r.locks = nil
	r.ctx.Close()
	r.heap.Destroy()
}

// Exec runs one command line. Blank lines and lines starting with # are
// ignored. Allocation failures and broken heap invariants are returned as
// errors.
func (r *Runner) Exec(line string) (err error) {
	words, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 || strings.HasPrefix(words[0], "#") {
		return nil
	}
	cmd, ok := commands[words[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", words[0])
	}
	args := words[1:]
	if len(args) < cmd.args {
		return fmt.Errorf("%s: %w", words[0], errUsage)
	}

	defer func() {
		if p := recover(); p != nil {
			assertErr, ok := p.(*gc.AssertionError)
			if !ok {
				panic(p)
			}
			err = assertErr
		}
	}()
	var cmdErr error
	if err := r.ctx.Run(func(*gc.Context) {
		cmdErr = cmd.run(r, args)
	}); err != nil {
		return err
	}
	return cmdErr
}

func (r *Runner) ref(name string) (gc.Ref, error) {
	ref, ok := r.vars[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", errUnknownVar, name)
	}
	return ref, nil
}

// value parses a value operand: a number, true, false, null, undefined, or
// $name for a variable.
func (r *Runner) value(s string) (gc.Value, error) {
	switch s {
	case "true":
		return gc.True, nil
	case "false":
		return gc.False, nil
	case "null":
		return gc.Null, nil
	case "undefined":
		return gc.Undefined, nil
	}
	if name, ok := strings.CutPrefix(s, "$"); ok {
		ref, err := r.ref(name)
		if err != nil {
			return gc.Undefined, err
		}
		switch r.heap.Tag(ref) {
		case gclayout.TagString, gclayout.TagCompoundString:
			return gc.StringValue(ref), nil
		}
		return gc.ObjectValue(ref), nil
	}
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return gc.Int(int32(i)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return gc.Undefined, fmt.Errorf("bad value %q", s)
	}
	return gc.Number(f), nil
}

func (r *Runner) values(args []string) ([]gc.Value, error) {
	vals := make([]gc.Value, len(args))
	for i, a := range args {
		v, err := r.value(a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (r *Runner) format(v gc.Value) string {
	switch {
	case v.IsString():
		return strconv.Quote(r.heap.StringContent(v.Ref()))
	case v.IsRef():
		return r.heap.Tag(v.Ref()).String() + "@" + v.Ref().String()
	}
	return v.String()
}

// string VAR TEXT...
func (r *Runner) cmdString(args []string) error {
	r.vars[args[0]] = r.ctx.NewString(strings.Join(args[1:], " "))
	return nil
}

// concat VAR LEFT RIGHT
func (r *Runner) cmdConcat(args []string) error {
	left, err := r.ref(args[1])
	if err != nil {
		return err
	}
	right, err := r.ref(args[2])
	if err != nil {
		return err
	}
	r.vars[args[0]] = r.ctx.NewCompoundString(left, right)
	return nil
}

// array VAR VALUE...
func (r *Runner) cmdArray(args []string) error {
	vals, err := r.values(args[1:])
	if err != nil {
		return err
	}
	r.vars[args[0]] = r.ctx.NewArray(len(vals), vals...)
	return nil
}

// weakarray VAR VALUE...
func (r *Runner) cmdWeakArray(args []string) error {
	vals, err := r.values(args[1:])
	if err != nil {
		return err
	}
	r.vars[args[0]] = r.ctx.NewWeakArray(len(vals), vals...)
	return nil
}

// append ARRAY VALUE
func (r *Runner) cmdAppend(args []string) error {
	arr, err := r.ref(args[0])
	if err != nil {
		return err
	}
	v, err := r.value(args[1])
	if err != nil {
		return err
	}
	if !r.heap.Append(arr, v) {
		return fmt.Errorf("array %s is full", args[0])
	}
	return nil
}

// class VAR NAME [PARENT]
func (r *Runner) cmdClass(args []string) error {
	var parent gc.Ref
	if len(args) > 2 {
		p, err := r.ref(args[2])
		if err != nil {
			return err
		}
		parent = p
	}
	r.vars[args[0]] = r.ctx.NewClass(parent, 0, args[1])
	return nil
}

// object VAR [CLASS]
func (r *Runner) cmdObject(args []string) error {
	var class gc.Ref
	if len(args) > 1 {
		c, err := r.ref(args[1])
		if err != nil {
			return err
		}
		class = c
	}
	r.vars[args[0]] = r.ctx.NewObject(class)
	return nil
}

// code VAR NAME SOURCE
func (r *Runner) cmdCode(args []string) error {
	r.vars[args[0]] = r.ctx.NewCode(args[1], args[2])
	return nil
}

// function VAR CODE [SCOPE]
func (r *Runner) cmdFunction(args []string) error {
	code, err := r.ref(args[1])
	if err != nil {
		return err
	}
	var scope gc.Ref
	if len(args) > 2 {
		if scope, err = r.ref(args[2]); err != nil {
			return err
		}
	}
	r.vars[args[0]] = r.ctx.NewFunction(code, scope, nil)
	return nil
}

// buffer VAR BYTES
func (r *Runner) cmdBuffer(args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	r.vars[args[0]] = r.ctx.NewArrayBuffer(n)
	return nil
}

// external BYTES (negative to release)
func (r *Runner) cmdExternal(args []string) error {
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	r.heap.AddExternal(n)
	return nil
}

// set OBJECT PROPERTY VALUE
func (r *Runner) cmdSet(args []string) error {
	obj, err := r.ref(args[0])
	if err != nil {
		return err
	}
	v, err := r.value(args[2])
	if err != nil {
		return err
	}
	r.ctx.SetProperty(obj, args[1], v)
	return nil
}

// get OBJECT PROPERTY
func (r *Runner) cmdGet(args []string) error {
	obj, err := r.ref(args[0])
	if err != nil {
		return err
	}
	v, ok := r.heap.GetProperty(obj, args[1])
	if !ok {
		fmt.Fprintf(r.out, "%s.%s: not set\n", args[0], args[1])
		return nil
	}
	fmt.Fprintf(r.out, "%s.%s = %s\n", args[0], args[1], r.format(v))
	return nil
}

// runtime NAME creates a runtime with a global object, also named NAME.
func (r *Runner) cmdRuntime(args []string) error {
	if r.runtimes[args[0]] != nil {
		return fmt.Errorf("runtime %q exists", args[0])
	}
	rt := r.heap.NewRuntime(args[0])
	r.runtimes[args[0]] = rt
	r.vars[args[0]] = r.ctx.NewGlobal(rt)
	return nil
}

// detach RUNTIME
func (r *Runner) cmdDetach(args []string) error {
	rt := r.runtimes[args[0]]
	if rt == nil {
		return fmt.Errorf("no runtime %q", args[0])
	}
	rt.Detach()
	delete(r.runtimes, args[0])
	return nil
}

// global RUNTIME NAME VALUE sets a property of a runtime's global object.
func (r *Runner) cmdGlobal(args []string) error {
	rt := r.runtimes[args[0]]
	if rt == nil {
		return fmt.Errorf("no runtime %q", args[0])
	}
	if len(args) < 3 {
		return fmt.Errorf("global: %w", errUsage)
	}
	v, err := r.value(args[2])
	if err != nil {
		return err
	}
	r.ctx.SetProperty(rt.Global(), args[1], v)
	return nil
}

// push VALUE...
func (r *Runner) cmdPush(args []string) error {
	vals, err := r.values(args)
	if err != nil {
		return err
	}
	for _, v := range vals {
		r.ctx.Push(v)
	}
	return nil
}

// scope open|close
func (r *Runner) cmdScope(args []string) error {
	switch args[0] {
	case "open":
		r.ctx.OpenScope()
	case "close":
		r.ctx.CloseScope()
	default:
		return fmt.Errorf("scope: want open or close, got %q", args[0])
	}
	return nil
}

// pin VAR...
func (r *Runner) cmdPin(args []string) error {
	for _, name := range args {
		ref, err := r.ref(name)
		if err != nil {
			return err
		}
		if err := r.heap.Pin(ref); err != nil {
			return err
		}
	}
	return nil
}

// unpin VAR...
func (r *Runner) cmdUnpin(args []string) error {
	for _, name := range args {
		ref, err := r.ref(name)
		if err != nil {
			return err
		}
		r.heap.Unpin(ref)
	}
	return nil
}

// garbage COUNT SIZE allocates COUNT unreachable strings of SIZE bytes.
func (r *Runner) cmdGarbage(args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	s := strings.Repeat("g", size)
	for i := 0; i < n; i++ {
		r.ctx.NewString(s)
	}
	return nil
}

var reasons = map[string]gc.Reason{
	"forced":      gc.ReasonForced,
	"limit":       gc.ReasonLimit,
	"maintenance": gc.ReasonMaintenance,
	"oom":         gc.ReasonOOM,
	"external":    gc.ReasonExternal,
}

// collect [REASON|ifneeded|scavenge]
func (r *Runner) cmdCollect(args []string) error {
	if len(args) == 0 {
		r.heap.ForceCollect(gc.ReasonForced)
		return nil
	}
	switch args[0] {
	case "ifneeded":
		r.heap.CollectIfNeeded()
		return nil
	case "scavenge":
		debug.FreeOSMemory(r.heap)
		return nil
	}
	reason, ok := reasons[args[0]]
	if !ok {
		return fmt.Errorf("unknown collection reason %q", args[0])
	}
	r.heap.ForceCollect(reason)
	return nil
}

// lock
func (r *Runner) cmdLock(args []string) error {
	r.locks = append(r.locks, r.heap.Lock())
	return nil
}

// unlock [force]
func (r *Runner) cmdUnlock(args []string) error {
	if len(r.locks) == 0 {
		return errors.New("heap is not locked")
	}
	l := r.locks[len(r.locks)-1]
	r.locks = r.locks[:len(r.locks)-1]
	l.Unlock(len(args) > 0 && args[0] == "force")
	return nil
}

// verify
func (r *Runner) cmdVerify(args []string) error {
	return r.heap.Verify()
}

// dump [json]
func (r *Runner) cmdDump(args []string) error {
	if len(args) > 0 && args[0] == "json" {
		return debug.WriteHeapDump(r.heap, r.out)
	}
	return r.heap.Dump(r.out)
}

// echo TEXT...
func (r *Runner) cmdEcho(args []string) error {
	fmt.Fprintln(r.out, strings.Join(args, " "))
	return nil
}

// stats
func (r *Runner) cmdStats(args []string) error {
	var ms gc.MemStats
	r.heap.ReadMemStats(&ms)
	fmt.Fprintf(r.out, "live %d bytes in %d objects, %d chunks, %d collections, %d pinned\n",
		ms.Alloc, ms.HeapObjects, ms.Chunks, ms.NumGC, ms.DynamicRoots)
	return nil
}
