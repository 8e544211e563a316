package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/UOR-Foundation/uor-labs/vm"
)

// ---------------------------------------------------------------------------
// debug: interactive debugger REPL
// ---------------------------------------------------------------------------

func debugCmd() *cobra.Command {
	var (
		breaks  []int
		watches []int64
	)
	cmd := &cobra.Command{
		Use:   "debug IN",
		Short: "Execute with the interactive debugger attached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := buildVM(args, 0, nil, "")
			if err != nil {
				return err
			}
			dbg := vm.NewDebugServer()
			machine.AttachDebugger(dbg)
			for _, b := range breaks {
				dbg.AddBreakpoint(b)
			}
			for _, w := range watches {
				dbg.AddWatchpoint(w)
			}
			return debugLoop(machine, dbg)
		},
	}
	cmd.Flags().IntSliceVarP(&breaks, "break", "b", nil, "breakpoint chunk index (repeatable)")
	cmd.Flags().Int64SliceVarP(&watches, "watch", "w", nil, "watched memory address (repeatable)")
	return cmd
}

// debugLoop runs the VM on its own goroutine and drives it from a readline
// prompt whenever it stops.
func debugLoop(machine *vm.VM, dbg *vm.DebugServer) error {
	done := make(chan error, 1)
	go func() { done <- machine.Run() }()

	rl, err := readline.New("(uor) ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		select {
		case ev := <-dbg.Events():
			printEvent(ev)
			if quit := prompt(rl, machine, dbg); quit {
				return nil
			}
		case runErr := <-done:
			if s := machine.OutputString(); s != "" {
				fmt.Println(s)
			}
			return runErr
		}
	}
}

func printEvent(ev vm.DebugEvent) {
	switch ev.Type {
	case "watchpoint":
		fmt.Printf("watchpoint: address %d changed %s -> %s (chunk %d)\n", ev.Addr, ev.Old, ev.New, ev.PC)
	default:
		fmt.Printf("stopped (%s) at chunk %d\n", ev.Type, ev.PC)
	}
}

// prompt reads commands until one resumes execution. It reports true when
// the user quits the session.
func prompt(rl *readline.Instance, machine *vm.VM, dbg *vm.DebugServer) bool {
	for {
		line, err := rl.Readline()
		if err != nil {
			dbg.Resume()
			return true
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "c", "continue":
			dbg.Resume()
			return false
		case "s", "step":
			dbg.Step()
			return false
		case "stack":
			vals := machine.Stack().Values()
			for i := len(vals) - 1; i >= 0; i-- {
				fmt.Printf("  [%d] %s\n", i, vals[i])
			}
		case "mem":
			if len(fields) != 2 {
				fmt.Println("usage: mem ADDR")
				continue
			}
			addr, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad address:", fields[1])
				continue
			}
			fmt.Println(machine.Memory().Load(addr))
		case "bt":
			for i, f := range machine.Frames() {
				fmt.Printf("  #%d call@%d -> %d\n", i, f.CallSite, f.ReturnPC)
			}
		case "break":
			if len(fields) != 2 {
				fmt.Println("usage: break INDEX")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad index:", fields[1])
				continue
			}
			dbg.AddBreakpoint(idx)
		case "watch":
			if len(fields) != 2 {
				fmt.Println("usage: watch ADDR")
				continue
			}
			addr, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("bad address:", fields[1])
				continue
			}
			dbg.AddWatchpoint(addr)
		case "q", "quit":
			dbg.Resume()
			return true
		default:
			fmt.Println("commands: continue step stack mem bt break watch quit")
		}
	}
}
