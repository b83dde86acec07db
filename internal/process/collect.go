package process

import "strings"

// Output is the accumulated text of both streams of a finished process.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Collect drains both streams into text and blocks until the process exits.
func Collect(p *Process) Output {
	var stdout, stderr strings.Builder
	outCh, errCh := p.Stdout(), p.Stderr()
	for outCh != nil || errCh != nil {
		select {
		case chunk, ok := <-outCh:
			if !ok {
				outCh = nil
				continue
			}
			stdout.Write(chunk)
		case chunk, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			stderr.Write(chunk)
		}
	}
	<-p.Done()

	return Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: p.ExitCode(),
	}
}
