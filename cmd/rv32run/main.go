// Command rv32run loads a flat RV32 binary image into a flatenv.Memory and
// steps a pkg/cpu.CPU through it, optionally tracing every instruction and
// dropping into an interactive single-step debugger.
package main

import (
	"fmt"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	"github.com/peterh/liner"

	"github.com/bassosimone/rv32core/pkg/cpu"
	"github.com/bassosimone/rv32core/pkg/flatenv"
	"github.com/bassosimone/rv32core/pkg/isa"
)

func main() {
	optFile := getopt.StringLong("file", 'f', "", "flat RV32 image to load at address 0")
	optFloat := getopt.StringLong("float", 0, "64", "float width: none, 32, 64, or 128")
	optDebug := getopt.BoolLong("debug", 'd', "single-step under an interactive debugger")
	optVerbose := getopt.BoolLong("verbose", 'v', "trace every instruction")
	optHelp := getopt.BoolLong("help", 'h', "show this help")
	getopt.Parse()

	if *optHelp || *optFile == "" {
		getopt.Usage()
		os.Exit(0)
	}

	level := slog.LevelWarn
	if *optVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	floatWidth, err := parseFloatWidth(*optFloat)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	image, err := os.ReadFile(*optFile)
	if err != nil {
		logger.Error("cannot read image", "file", *optFile, "error", err)
		os.Exit(1)
	}

	mem := flatenv.New(os.Stdin, os.Stdout, logger)
	mem.LoadImage(image)

	machine := cpu.New(floatWidth)

	var debugger *liner.State
	if *optDebug {
		debugger = liner.NewLiner()
		defer debugger.Close()
		debugger.SetCtrlCAborts(true)
	}

	for {
		if *optVerbose {
			logger.Debug("step", "pc", fmt.Sprintf("0x%08x", machine.PC()))
		}
		if debugger != nil {
			if !pauseForDebugger(debugger, machine) {
				break
			}
		}
		if err := machine.Step(mem); err != nil {
			trap, ok := err.(*cpu.Trap)
			if !ok {
				logger.Error("unexpected step error", "error", err)
				os.Exit(1)
			}
			if trap.Cause == isa.EcallFromM && machine.Register(17) == 93 {
				os.Exit(int(machine.Register(10)))
			}
			logger.Error("trap", "cause", trap.Cause, "tval", fmt.Sprintf("0x%08x", trap.Value), "pc", fmt.Sprintf("0x%08x", machine.PC()))
			os.Exit(1)
		}
	}
}

// pauseForDebugger prints the architectural state and reads one command
// line; it returns false when the user asks to quit.
func pauseForDebugger(line *liner.State, machine *cpu.CPU) bool {
	fmt.Printf("pc=0x%08x x1=0x%08x x2=0x%08x ...\n", machine.PC(), machine.Register(1), machine.Register(2))
	input, err := line.Prompt("(rv32run) ")
	if err != nil {
		return false
	}
	line.AppendHistory(input)
	switch input {
	case "q", "quit":
		return false
	default:
		return true
	}
}

func parseFloatWidth(s string) (isa.FloatWidth, error) {
	switch s {
	case "none", "0":
		return isa.FloatNone, nil
	case "32":
		return isa.Float32, nil
	case "64":
		return isa.Float64, nil
	case "128":
		return isa.Float128, nil
	default:
		return 0, fmt.Errorf("invalid -float value %q: want none, 32, 64, or 128", s)
	}
}
