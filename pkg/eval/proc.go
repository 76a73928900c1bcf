package eval

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/quellaran/treeopt/pkg/errors"
)

// Proc is the line-oriented channel to one external worker process. Exactly
// one request is in flight per Proc at a time; the pool enforces that.
type Proc interface {
	// Send writes one request line.
	Send(line []byte) error
	// Recv blocks until the next response line arrives.
	Recv() ([]byte, error)
	// Kill terminates the process. Blocked Recv calls return an error.
	Kill() error
}

// execProc runs a real calculator subprocess, requests on stdin and
// responses on stdout, one JSON document per line.
type execProc struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	scanner  *bufio.Scanner
	killOnce sync.Once
}

func startProc(command []string) (Proc, error) {
	if len(command) == 0 {
		return nil, errors.New(errors.InvalidInput, "worker command is empty")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.WorkerCrashed, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.WorkerCrashed, "failed to open worker stdout")
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, errors.WorkerCrashed, "failed to start worker process")
	}

	return &execProc{cmd: cmd, stdin: stdin, scanner: scanner}, nil
}

func (p *execProc) Send(line []byte) error {
	if _, err := p.stdin.Write(line); err != nil {
		return err
	}
	_, err := p.stdin.Write([]byte{'\n'})
	return err
}

func (p *execProc) Recv() ([]byte, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// Copy out: the scanner reuses its buffer on the next Scan.
	line := make([]byte, len(p.scanner.Bytes()))
	copy(line, p.scanner.Bytes())
	return line, nil
}

func (p *execProc) Kill() error {
	p.killOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.cmd.Wait()
	})
	return nil
}
