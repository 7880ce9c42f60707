// Command furlow is the command-line front end for the Furlow virtual
// machine: it parses and compiles source, loads or writes compiled
// programs, and drives the scheduler to completion.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/kcosby/furlow/internal/rt"
	"github.com/kcosby/furlow/pkg/bytecode"
	"github.com/kcosby/furlow/pkg/compiler"
	"github.com/kcosby/furlow/pkg/parser"
	"github.com/kcosby/furlow/pkg/runtime"
	"github.com/kcosby/furlow/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("furlow version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "repl":
		runREPL()
	case "run":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			printUsage()
			os.Exit(1)
		}
		runFile(os.Args[2])
	case "compile":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: furlow compile <input.fur> [output.furc]")
			os.Exit(1)
		}
		inputFile := os.Args[2]
		outputFile := ""
		if len(os.Args) >= 4 {
			outputFile = os.Args[3]
		}
		compileFile(inputFile, outputFile)
	case "disassemble", "disasm":
		if len(os.Args) < 3 {
			fmt.Println("Error: no file specified")
			fmt.Println("\nUsage: furlow disassemble <file.furc>")
			os.Exit(1)
		}
		disassembleFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("furlow - a register/stack virtual machine for a small dynamic language")
	fmt.Println("\nUsage:")
	fmt.Println("  furlow                        Start interactive REPL")
	fmt.Println("  furlow [file]                 Run a .fur or .furc file")
	fmt.Println("  furlow run [file]             Run a .fur or .furc file")
	fmt.Println("  furlow compile <in> [out]     Compile .fur to .furc bytecode")
	fmt.Println("  furlow disassemble <file>     Disassemble a .furc bytecode file")
	fmt.Println("  furlow repl                   Start interactive REPL")
	fmt.Println("  furlow version                Show version")
	fmt.Println("  furlow help                   Show this help")
	fmt.Println("\nFile Extensions:")
	fmt.Println("  .fur    Source code files (text)")
	fmt.Println("  .furc   Compiled bytecode files (binary)")
}

// newRootScope returns a fresh program scope with the standard built-ins
// bound in and registered with heap, ready to serve as a VM's initial
// `this`.
func newRootScope(heap *runtime.Heap) *runtime.Scope {
	root := runtime.NewScope("program")
	heap.Track(root)
	if err := runtime.RegisterBuiltins(root, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "internal error registering built-ins: %v\n", err)
		os.Exit(1)
	}
	return root
}

// vmOptions builds the scheduler options every VM in this command is
// constructed with: FURLOW_VERBOSE=1 turns on stderr logging of
// scheduling/GC events, and FURLOW_MAX_VSTACK, if set to a positive
// integer, bounds per-thread value-stack growth.
func vmOptions() []vm.Option {
	var opts []vm.Option
	if os.Getenv("FURLOW_VERBOSE") == "1" {
		opts = append(opts, vm.WithLogger(rt.NewStderrLogger("furlow: ")))
	}
	if s := os.Getenv("FURLOW_MAX_VSTACK"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			opts = append(opts, vm.WithMaxVStackDepth(n))
		}
	}
	return opts
}

// runFile runs a .fur source file or a .furc compiled bytecode file,
// dispatching on the file extension: .furc loads a compiled program
// directly, anything else is compiled from source first.
func runFile(filename string) {
	if filepath.Ext(filename) == ".furc" {
		runBytecodeFile(filename)
		return
	}
	runSourceFile(filename)
}

func runSourceFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	store := bytecode.NewStore()
	entry, err := compileInto(store, string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	execute(store, entry)
}

func runBytecodeFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	store := bytecode.NewStore()
	store.LoadBytes(data)
	execute(store, 0)
}

func execute(store *bytecode.Store, entry uint32) {
	heap := runtime.NewHeap()
	root := newRootScope(heap)
	machine := vm.New(store, heap, entry, root, vmOptions()...)
	if err := machine.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
}

// compileInto parses and compiles src, appending it to store and
// returning the address its first instruction lands at.
func compileInto(store *bytecode.Store, src string) (uint32, error) {
	p := parser.New(src)
	root, err := p.Parse()
	if err != nil {
		return 0, fmt.Errorf("parse error: %w", err)
	}
	resolve, err := compiler.Compile(root)
	if err != nil {
		return 0, fmt.Errorf("compile error: %w", err)
	}
	entry, err := store.Compile(resolve)
	if err != nil {
		return 0, fmt.Errorf("compile error: %w", err)
	}
	return entry, nil
}

func compileFile(inputFile, outputFile string) {
	if outputFile == "" {
		if filepath.Ext(inputFile) == ".fur" {
			outputFile = inputFile[:len(inputFile)-len(".fur")] + ".furc"
		} else {
			outputFile = inputFile + ".furc"
		}
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	store := bytecode.NewStore()
	if _, err := compileInto(store, string(data)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputFile, store.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing bytecode: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Compiled %s -> %s (%s)\n", inputFile, outputFile, humanize.Bytes(uint64(store.Len())))
}

// disassembleFile prints every decoded instruction in a .furc file with
// its absolute byte offset, so the offsets line up with the addresses
// JMP/CALL/SET_C instructions actually carry.
func disassembleFile(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	store := bytecode.NewStore()
	store.LoadBytes(data)

	fmt.Printf("=== Bytecode Disassembly: %s (%s) ===\n\n", filename, humanize.Bytes(uint64(store.Len())))

	var count int
	for addr := uint32(0); addr < store.Len(); {
		ins, next, err := store.Decode(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode error at offset %s: %v\n", humanize.Comma(int64(addr)), err)
			os.Exit(1)
		}
		fmt.Printf("  %8s: %s", humanize.Comma(int64(addr)), ins.Op)
		for _, r := range ins.Regs[:operandRegCount(ins.Op)] {
			fmt.Printf(" r%d", r)
		}
		if hasAddrOperand(ins.Op) {
			fmt.Printf(" ->%s", humanize.Comma(int64(ins.Addr)))
		}
		if ins.Label != "" {
			fmt.Printf(" %q", ins.Label)
		}
		fmt.Println()
		addr = next
		count++
	}
	fmt.Printf("\n%s instructions, %s total\n", humanize.Comma(int64(count)), humanize.Bytes(uint64(store.Len())))
}

func operandRegCount(op bytecode.Opcode) int {
	n := 0
	for _, k := range bytecode.Operands(op) {
		if k == bytecode.OperandReg {
			n++
		}
	}
	return n
}

func hasAddrOperand(op bytecode.Opcode) bool {
	for _, k := range bytecode.Operands(op) {
		if k == bytecode.OperandAddr {
			return true
		}
	}
	return false
}

// runREPL starts an interactive read-compile-run loop. Each input is
// compiled onto the same persistent program store and run on a fresh VM
// that shares the persistent heap and root scope, so variables declared in
// one input remain visible in later ones.
func runREPL() {
	interactive := isatty.IsTerminal(os.Stdin.Fd())
	if interactive {
		fmt.Printf("furlow REPL v%s\n", version)
		fmt.Println("Type ':help' for help, ':quit' or ':exit' to exit")
		fmt.Println()
	}

	store := bytecode.NewStore()
	heap := runtime.NewHeap()
	root := newRootScope(heap)
	scanner := bufio.NewScanner(os.Stdin)

	var inputBuffer strings.Builder
	for {
		if interactive {
			if inputBuffer.Len() == 0 {
				fmt.Print("furlow> ")
			} else {
				fmt.Print("....> ")
			}
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if inputBuffer.Len() == 0 {
			switch strings.TrimSpace(line) {
			case ":quit", ":exit":
				return
			case ":help":
				printREPLHelp()
				continue
			case "":
				continue
			}
		}

		inputBuffer.WriteString(line)
		inputBuffer.WriteString("\n")

		input := strings.TrimSpace(inputBuffer.String())
		if !strings.HasSuffix(input, ";") && !strings.HasSuffix(input, "}") {
			continue
		}

		evalREPL(store, heap, root, input)
		inputBuffer.Reset()
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}

func evalREPL(store *bytecode.Store, heap *runtime.Heap, root *runtime.Scope, input string) {
	entry, err := compileInto(store, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	machine := vm.New(store, heap, entry, root, vmOptions()...)
	if err := machine.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
	}
}

func printREPLHelp() {
	fmt.Println("furlow REPL help")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  :help     Show this help message")
	fmt.Println("  :quit     Exit the REPL")
	fmt.Println("  :exit     Exit the REPL")
	fmt.Println()
	fmt.Println("Statements end with ';', blocks with '}'; either completes an input.")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  furlow> num x = 42;")
	fmt.Println("  furlow> print(x + 8);")
	fmt.Println()
}
