// Package piper manages an N-stage subprocess pipeline (spec.md §4.7):
// send_cmd | pipe_through[0] | pipe_through[1] | ... Each stage's stderr is
// captured into a bounded ring buffer, and cancellation escalates from
// SIGTERM to SIGKILL. Grounded on the teacher's util.StartCmdWithPipedInput
// and util.StartCmdWithPipedOutput (util/util.go).
package piper

import (
  "context"
  "fmt"
  "io"
  "os/exec"
  "syscall"
  "time"

  "github.com/sbrudenell/btrfs2s3/internal/logging"
)

// stderrTailBytes bounds how much of a stage's stderr is retained for
// error reporting (spec.md §4.7: "~16 KiB").
const stderrTailBytes = 16 * 1024

// killGrace is how long a stage is given to exit after SIGTERM before
// SIGKILL is sent.
const killGrace = 5 * time.Second

// PipelineFailed reports which stage of a pipeline failed.
type PipelineFailed struct {
  Which    int
  Args     []string
  ExitCode int
  Stderr   string
}

func (e *PipelineFailed) Error() string {
  return fmt.Sprintf("pipeline stage %d (%v) exited %d, stderr tail:\n%s", e.Which, e.Args, e.ExitCode, e.Stderr)
}

// ringBuffer is a fixed-capacity io.Writer that keeps only the most
// recently written bytes.
type ringBuffer struct {
  buf []byte
  cap int
}

func newRingBuffer(cap int) *ringBuffer { return &ringBuffer{cap: cap} }

func (r *ringBuffer) Write(p []byte) (int, error) {
  r.buf = append(r.buf, p...)
  if len(r.buf) > r.cap {
    r.buf = r.buf[len(r.buf)-r.cap:]
  }
  return len(p), nil
}

func (r *ringBuffer) String() string { return string(r.buf) }

// Pipeline is a running (or not-yet-started) N-stage subprocess chain.
type Pipeline struct {
  stages  [][]string
  cmds    []*exec.Cmd
  stderrs []*ringBuffer
  log     *logging.Logger
}

// New builds a pipeline from an ordered list of argv slices; stages[0] is
// conventionally the "btrfs send" invocation and the rest are
// user-configured pipe_through filters.
func New(stages [][]string, log *logging.Logger) *Pipeline {
  return &Pipeline{stages: stages, log: log}
}

// Start launches every stage, chaining stage i's stdout to stage i+1's
// stdin, and returns the final stage's stdout for the caller to read. The
// pipeline is canceled (SIGTERM, escalating to SIGKILL after killGrace) if
// ctx is canceled before Wait returns.
func (p *Pipeline) Start(ctx context.Context) (io.ReadCloser, error) {
  if len(p.stages) == 0 {
    return nil, fmt.Errorf("piper: empty pipeline")
  }
  p.cmds = make([]*exec.Cmd, len(p.stages))
  p.stderrs = make([]*ringBuffer, len(p.stages))

  var prevStdout io.ReadCloser
  var finalOutput io.ReadCloser
  for i, args := range p.stages {
    cmd := exec.CommandContext(ctx, args[0], args[1:]...)
    stderr := newRingBuffer(stderrTailBytes)
    cmd.Stderr = stderr
    cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
    cmd.WaitDelay = killGrace

    if prevStdout != nil {
      cmd.Stdin = prevStdout
    }
    stdout, err := cmd.StdoutPipe()
    if err != nil {
      p.killStarted()
      return nil, fmt.Errorf("piper: stage %d StdoutPipe: %w", i, err)
    }

    if err := cmd.Start(); err != nil {
      p.killStarted()
      return nil, fmt.Errorf("piper: stage %d (%v) failed to start: %w", i, args, err)
    }
    p.log.Debugf("pipeline stage %d (%v) started as pid %d", i, args, cmd.Process.Pid)

    p.cmds[i] = cmd
    p.stderrs[i] = stderr
    prevStdout = stdout
    finalOutput = stdout
  }
  return finalOutput, nil
}

func (p *Pipeline) killStarted() {
  for _, cmd := range p.cmds {
    if cmd != nil && cmd.Process != nil {
      _ = cmd.Process.Kill()
    }
  }
}

// Wait blocks until every stage has exited, reaping all of them even if an
// early stage fails, so a later stage never leaks as a zombie. It returns
// the first PipelineFailed encountered, in stage order. A stage that exits
// 0 is not a failure, even when it exited in response to cancellation.
func (p *Pipeline) Wait() error {
  var first *PipelineFailed
  for i, cmd := range p.cmds {
    err := cmd.Wait()
    if err == nil || first != nil {
      continue
    }
    if cmd.ProcessState != nil && cmd.ProcessState.Success() {
      // cmd.Wait reports the context's error once Cancel has signalled
      // the stage, even if the stage then exited 0.
      continue
    }
    exitCode := -1
    if exitErr, ok := err.(*exec.ExitError); ok {
      exitCode = exitErr.ExitCode()
    }
    first = &PipelineFailed{Which: i, Args: p.stages[i], ExitCode: exitCode, Stderr: p.stderrs[i].String()}
  }
  if first != nil {
    return first
  }
  return nil
}
