package lipsync

import (
	"context"
	"fmt"

	"github.com/forPelevin/lipseg/internal/procexec"
)

// Adapter invokes the inference script:
//
//	<bin> <args...> --face=<video> --audio=<audio> --outfile=<out> <extra...>
type Adapter struct {
	bin    string
	args   []string
	extra  []string
	runner procexec.Runner
}

func New(bin string, args, extra []string, runner procexec.Runner) *Adapter {
	if bin == "" {
		bin = "python"
		if len(args) == 0 {
			args = []string{"inference.py"}
		}
	}
	if runner == nil {
		runner = procexec.NewExecRunner(0, nil)
	}
	return &Adapter{
		bin:    bin,
		args:   append([]string(nil), args...),
		extra:  append([]string(nil), extra...),
		runner: runner,
	}
}

func (a *Adapter) Command(face, audio, out string) procexec.Command {
	args := make([]string, 0, len(a.args)+len(a.extra)+3)
	args = append(args, a.args...)
	args = append(args,
		"--face="+face,
		"--audio="+audio,
		"--outfile="+out,
	)
	args = append(args, a.extra...)
	return procexec.Command{Name: a.bin, Args: args, Output: out}
}

func (a *Adapter) Infer(ctx context.Context, face, audio, out string) error {
	if _, err := a.runner.Run(ctx, a.Command(face, audio, out)); err != nil {
		return fmt.Errorf("lipsync inference: %w", err)
	}
	return nil
}
