// uor - assemble, run, debug and profile prime-factorization chunk
// programs.
package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/UOR-Foundation/uor-labs/asm"
	"github.com/UOR-Foundation/uor-labs/checkpoint"
	"github.com/UOR-Foundation/uor-labs/chunk"
	"github.com/UOR-Foundation/uor-labs/config"
	"github.com/UOR-Foundation/uor-labs/vm"
)

const (
	exitVMError  = 1
	exitAsmError = 2
)

var (
	cfg       *config.Config
	verbosity int
)

func main() {
	root := &cobra.Command{
		Use:           "uor",
		Short:         "Prime-factorization chunk VM",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadIfPresent("uor.toml")
			if err != nil {
				return err
			}
			if verbosity == 0 {
				verbosity = cfg.Log.Verbosity
			}
			commonlog.Configure(verbosity, nil)
			return nil
		},
	}
	root.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "log verbosity")

	root.AddCommand(assembleCmd(), runCmd(), debugCmd(), profileCmd(), flamegraphCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ae *asm.Error
		if errors.As(err, &ae) {
			os.Exit(exitAsmError)
		}
		os.Exit(exitVMError)
	}
}

// ---------------------------------------------------------------------------
// assemble
// ---------------------------------------------------------------------------

func assembleCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "assemble [IN]",
		Short: "Assemble text into a chunk list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readInput(args)
			if err != nil {
				return err
			}
			prog, err := asm.Assemble(string(src))
			if err != nil {
				return err
			}
			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return prog.Write(w)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var (
		limit        int64
		inputs       []string
		checkpointDB string
	)
	cmd := &cobra.Command{
		Use:   "run [IN]",
		Short: "Execute a program (assembly text or chunk list)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := buildVM(args, limit, inputs, checkpointDB)
			if err != nil {
				return err
			}
			runErr := machine.Run()
			if s := machine.OutputString(); s != "" {
				fmt.Println(s)
			}
			return runErr
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 0, "instruction budget (0 = unlimited)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "value queued for INPUT (repeatable)")
	cmd.Flags().StringVar(&checkpointDB, "checkpoint-db", "", "SQLite store receiving CHECKPOINT snapshots")
	return cmd
}

// ---------------------------------------------------------------------------
// profile / flamegraph
// ---------------------------------------------------------------------------

func profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile IN",
		Short: "Execute with the profiler and print metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfiled(args, func(p *vm.Profiler) string { return p.Report() })
		},
	}
}

func flamegraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flamegraph IN",
		Short: "Execute with the profiler and print folded stack samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfiled(args, func(p *vm.Profiler) string { return p.Flamegraph() })
		},
	}
}

func runProfiled(args []string, render func(*vm.Profiler) string) error {
	machine, err := buildVM(args, cfg.VM.StepLimit, nil, "")
	if err != nil {
		return err
	}
	prof := vm.NewProfiler()
	machine.SetProfiler(prof)
	runErr := machine.Run()
	fmt.Print(render(prof))
	return runErr
}

// ---------------------------------------------------------------------------
// Shared plumbing
// ---------------------------------------------------------------------------

// readInput reads the named file or stdin.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

// loadProgram sniffs the input form: a file whose first significant line is
// a decimal integer is a chunk list, anything else is assembly text.
func loadProgram(args []string) (chunk.Program, error) {
	data, err := readInput(args)
	if err != nil {
		return nil, err
	}
	if isChunkList(string(data)) {
		return chunk.Read(strings.NewReader(string(data)))
	}
	return asm.Assemble(string(data))
}

func isChunkList(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_, ok := new(big.Int).SetString(line, 10)
		return ok
	}
	return false
}

// buildVM assembles/loads the program and wires the standard host pieces.
func buildVM(args []string, limit int64, inputs []string, checkpointDB string) (*vm.VM, error) {
	prog, err := loadProgram(args)
	if err != nil {
		return nil, err
	}
	machine := vm.New(prog)

	gw, err := vm.NewLocalGateway()
	if err != nil {
		return nil, err
	}
	machine.SetGateway(gw)

	if limit == 0 {
		limit = cfg.VM.StepLimit
	}
	machine.SetStepLimit(limit)

	for _, in := range inputs {
		val, ok := new(big.Int).SetString(in, 10)
		if !ok {
			return nil, fmt.Errorf("bad --input value %q", in)
		}
		machine.PushInput(val)
	}

	if checkpointDB == "" {
		checkpointDB = cfg.Checkpoint.Path
	}
	if checkpointDB != "" {
		store, err := checkpoint.Open(checkpointDB)
		if err != nil {
			return nil, err
		}
		machine.SetSink(store)
	}
	return machine, nil
}
