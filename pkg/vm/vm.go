// Package vm implements the Furlow virtual machine: a cooperative,
// round-robin scheduler over one or more Threads, each with its own value
// stack, call stack, trap stack, and register file, executing bytecode
// decoded from a shared bytecode.Store.
//
//	Source -> lexer -> parser -> ast -> compiler -> bytecode.Store -> vm.VM
//
// Every tick advances exactly one live thread by exactly one instruction:
// threads observe program order individually, and because only one
// instruction executes at a time across the whole VM, shared scope-tree
// mutations never race.
package vm

import (
	"context"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kcosby/furlow/internal/rt"
	"github.com/kcosby/furlow/pkg/bytecode"
	"github.com/kcosby/furlow/pkg/runtime"
)

// CyclesOnCollect is the default scheduler tick cadence at which a
// stop-the-world mark-sweep collection runs. Override per-VM with
// WithCyclesOnCollect.
const CyclesOnCollect = 500

// RunState is a thread's position in the LIVE -> DEAD state machine.
type RunState int

const (
	Live RunState = iota
	Dead
)

// Frame is one call-stack entry: the scope active while this frame is on
// top (`this`), and the address to resume at when the frame is popped.
// CALL and USE both push frames of this same shape: CALL to enter a
// function body at a new address, USE to enter an existing scope without
// changing the instruction stream; RET/EXIT both pop one off.
type Frame struct {
	ReturnIP uint32
	This     *runtime.Scope
}

// Trap is a saved recovery point for user error handling: the address to
// jump to and the value-stack depth to restore when an error unwinds to
// this trap.
type Trap struct {
	HandlerIP   uint32
	VStackDepth int
}

// Thread is one cooperatively scheduled execution context.
type Thread struct {
	ID   int
	UUID uuid.UUID

	PC        uint32
	VStack    []runtime.Value
	cstack    []Frame
	Registers [bytecode.NumRegisters]runtime.Value
	Traps     []Trap

	State   RunState
	CurrErr *RuntimeError
}

func newThread(id int, pc uint32, this *runtime.Scope) *Thread {
	th := &Thread{ID: id, UUID: uuid.New(), PC: pc, State: Live}
	if this != nil {
		th.cstack = append(th.cstack, Frame{This: this})
	}
	return th
}

func (th *Thread) this() *runtime.Scope {
	if len(th.cstack) == 0 {
		return nil
	}
	return th.cstack[len(th.cstack)-1].This
}

// VM ties a program store, a scope heap, and a set of threads together.
// Scheduler state (the thread list and the round-robin cursor) is guarded
// by a weighted semaphore of weight 1 rather than a sync.Mutex: unlike
// Mutex, semaphore.Weighted grants acquisitions in roughly FIFO order, so
// ticks driven from more than one goroutine (a REPL goroutine and a
// background runner, say) are served in the order they asked to run.
type VM struct {
	Store *bytecode.Store
	Heap  *runtime.Heap

	sched   *semaphore.Weighted
	mu      sync.Mutex // guards threads/curr/ticks/nextID against the rare non-ticking reader (Threads(), spawn() from outside a tick)
	threads []*Thread
	curr    int
	ticks   uint64
	nextID  int

	cyclesOnCollect int
	maxVStackDepth  int
	log             *rt.Logger
}

// Option configures a VM at construction time. See WithCyclesOnCollect,
// WithMaxVStackDepth, and WithLogger.
type Option func(*VM)

// WithCyclesOnCollect overrides the scheduler tick cadence at which a
// stop-the-world mark-sweep collection runs. n <= 0 is ignored.
func WithCyclesOnCollect(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.cyclesOnCollect = n
		}
	}
}

// WithMaxVStackDepth bounds how deep any single thread's value stack may
// grow before a push reports a BoundsError instead of growing further.
// n <= 0 means unlimited, the default.
func WithMaxVStackDepth(n int) Option {
	return func(vm *VM) { vm.maxVStackDepth = n }
}

// WithLogger directs scheduling and GC event logging to l. A nil l (the
// default) discards these events.
func WithLogger(l *rt.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// New returns a VM with a single initial thread starting at entry, whose
// root scope is this (typically a fresh runtime.Scope the caller has
// already registered with heap).
func New(store *bytecode.Store, heap *runtime.Heap, entry uint32, this *runtime.Scope, opts ...Option) *VM {
	vm := &VM{
		Store:           store,
		Heap:            heap,
		sched:           semaphore.NewWeighted(1),
		cyclesOnCollect: CyclesOnCollect,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.threads = append(vm.threads, newThread(vm.nextID, entry, this))
	vm.nextID++
	return vm
}

// Threads returns a snapshot of the current thread list, for tests and
// debugging tools.
func (vm *VM) Threads() []*Thread {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]*Thread, len(vm.threads))
	copy(out, vm.threads)
	return out
}

// Run ticks the VM until no thread remains LIVE, returning the first
// unrecovered error reported by any thread, if any.
func (vm *VM) Run(ctx context.Context) error {
	for {
		live, err := vm.Tick(ctx)
		if err != nil {
			return err
		}
		if !live {
			return vm.firstError()
		}
	}
}

func (vm *VM) firstError() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, th := range vm.threads {
		if th.CurrErr != nil {
			return th.CurrErr
		}
	}
	return nil
}

// Tick executes exactly one instruction of the next LIVE thread in
// round-robin order, runs a GC cycle every CyclesOnCollect ticks, and
// reports whether any thread is still LIVE afterward.
func (vm *VM) Tick(ctx context.Context) (bool, error) {
	if err := vm.sched.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer vm.sched.Release(1)

	vm.mu.Lock()
	th, idx := vm.nextLive()
	if th == nil {
		anyLive := false
		vm.mu.Unlock()
		return anyLive, nil
	}
	vm.curr = (idx + 1) % len(vm.threads)
	vm.ticks++
	tick := vm.ticks
	vm.mu.Unlock()

	ins, next, err := vm.Store.Decode(th.PC)
	if err != nil {
		th.State = Dead
		return vm.anyLive(), err
	}
	th.PC = next

	if execErr := vm.execute(th, ins); execErr != nil {
		vm.throw(th, execErr, th.PC)
	}

	if tick%uint64(vm.cyclesOnCollect) == 0 {
		vm.collect()
	}
	return vm.anyLive(), nil
}

// push appends v to th's value stack, reporting a BoundsError instead of
// growing the stack past the VM's configured maxVStackDepth.
func (vm *VM) push(th *Thread, v runtime.Value) error {
	if vm.maxVStackDepth > 0 && len(th.VStack) >= vm.maxVStackDepth {
		return &runtime.BoundsError{Msg: "value stack overflow"}
	}
	th.VStack = append(th.VStack, v)
	return nil
}

func (vm *VM) nextLive() (*Thread, int) {
	n := len(vm.threads)
	for i := 0; i < n; i++ {
		c := (vm.curr + i) % n
		if vm.threads[c].State == Live {
			return vm.threads[c], c
		}
	}
	return nil, -1
}

func (vm *VM) anyLive() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, th := range vm.threads {
		if th.State == Live {
			return true
		}
	}
	return false
}

// throw captures cause as a RuntimeError on th. If th has a pending trap,
// execution resumes at the trap's handler with the value stack restored
// to the depth recorded there; otherwise th transitions to DEAD.
func (vm *VM) throw(th *Thread, cause error, ip uint32) {
	err := newRuntimeError(cause, int(ip), th)
	th.CurrErr = err
	if len(th.Traps) > 0 {
		trap := th.Traps[len(th.Traps)-1]
		th.Traps = th.Traps[:len(th.Traps)-1]
		if trap.VStackDepth <= len(th.VStack) {
			th.VStack = th.VStack[:trap.VStackDepth]
		}
		th.PC = trap.HandlerIP
		return
	}
	th.State = Dead
	vm.log.Printf("thread %d died unhandled: %v", th.ID, err)
}

// collect runs one stop-the-world mark-sweep cycle: every live thread's
// value stack, call stack, and register file are roots. A dead thread
// contributes no roots, so a scope reachable only from a dead thread's
// state does not survive this cycle.
func (vm *VM) collect() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, th := range vm.threads {
		if th.State != Live {
			continue
		}
		for _, v := range th.VStack {
			if v.IsScope() {
				runtime.MarkFrom(v.Scope)
			}
		}
		for _, f := range th.cstack {
			if f.This != nil {
				runtime.MarkFrom(f.This)
			}
		}
		for _, v := range th.Registers {
			if v.IsScope() {
				runtime.MarkFrom(v.Scope)
			}
		}
	}
	collected := vm.Heap.Sweep()
	vm.log.Printf("gc: %d threads scanned, %d scopes collected, %d remain", len(vm.threads), collected, vm.Heap.Size())
	if vm.curr >= len(vm.threads) {
		vm.curr = 0
	}
}

// spawn registers a new thread starting at pc with root scope this,
// returning its id. NEW_T uses it to start a thread body.
func (vm *VM) spawn(pc uint32, this *runtime.Scope) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	id := vm.nextID
	vm.nextID++
	vm.threads = append(vm.threads, newThread(id, pc, this))
	vm.log.Printf("thread %d spawned at pc=%d", id, pc)
	return id
}

func tidNumber(id int) *runtime.Number {
	n := runtime.NewNumber("")
	n.SetInt(big.NewInt(int64(id)))
	return n
}
