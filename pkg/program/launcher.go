package program

import (
	"fmt"

	"minitpu/pkg/hal"
	"minitpu/pkg/isa"
	"minitpu/pkg/kernel"
)

// Launcher submits resolved kernel instruction streams to a device. Every
// submission carries its own trailing HALT; the hardware requires the full
// program before execution starts, so there is no incremental loading.
type Launcher struct {
	drv hal.Driver
}

func NewLauncher(drv hal.Driver) *Launcher {
	return &Launcher{drv: drv}
}

// Launch resolves one compiled kernel, appends HALT, and runs it.
func (l *Launcher) Launch(ck *kernel.CompiledKernel, bindings kernel.Bindings) error {
	words, err := ck.Resolve(bindings)
	if err != nil {
		return err
	}
	words = append(words, isa.EncodeHalt())
	if len(words) > isa.IMEMMaxSize {
		return fmt.Errorf("%w: kernel %q needs %d instructions, limit %d",
			isa.ErrIMEMOverflow, ck.Name, len(words), isa.IMEMMaxSize)
	}

	if err := l.drv.WriteInstructions(words); err != nil {
		return err
	}
	return l.drv.Compute()
}

// LaunchBatch resolves every call in order and runs them as one stream
// under a single trailing HALT. It returns the number of executed
// instructions, HALT excluded; an empty batch submits the 1-word HALT
// stream and reports 0.
func (l *Launcher) LaunchBatch(calls []Call) (int, error) {
	words := make([]isa.Word, 0, 64)
	for i, call := range calls {
		resolved, err := call.Kernel.Resolve(call.Bindings)
		if err != nil {
			return 0, fmt.Errorf("batch call %d (%s): %w", i, call.Kernel.Name, err)
		}
		words = append(words, resolved...)
	}
	words = append(words, isa.EncodeHalt())
	if len(words) > isa.IMEMMaxSize {
		return 0, fmt.Errorf("%w: batch has %d instructions, limit %d",
			isa.ErrIMEMOverflow, len(words), isa.IMEMMaxSize)
	}

	if err := l.drv.WriteInstructions(words); err != nil {
		return 0, err
	}
	if err := l.drv.Compute(); err != nil {
		return 0, err
	}
	return len(words) - 1, nil
}

// Run compiles a whole program and submits it.
func (l *Launcher) Run(p *Program) (int, error) {
	words, err := p.Compile()
	if err != nil {
		return 0, err
	}
	if err := l.drv.WriteInstructions(words); err != nil {
		return 0, err
	}
	if err := l.drv.Compute(); err != nil {
		return 0, err
	}
	return len(words) - 1, nil
}
