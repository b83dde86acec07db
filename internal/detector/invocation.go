// Package detector runs per-request detection jobs against the external
// detector program and collects the images it writes.
package detector

import "strconv"

// Run names the detector is told to write into, below --project.
const (
	ResultsRunName = "results"
	WebcamRunName  = "webcam_results"

	// WebcamSource selects the first capture device.
	WebcamSource = "0"
)

// Settings are the fixed parts of every detector command line.
type Settings struct {
	Executable string
	// Script is passed as the first argument when set, for interpreters
	// such as python3.
	Script     string
	Weights    string
	ImageSize  int
	Confidence float64
}

// Invocation is one immutable detector command line.
type Invocation struct {
	executable string
	args       []string
}

// Invocation builds the command line for source, writing into
// <project>/<name>.
func (s Settings) Invocation(source, project, name string) Invocation {
	args := make([]string, 0, 13)
	if s.Script != "" {
		args = append(args, s.Script)
	}
	args = append(args,
		"--weights", s.Weights,
		"--img", strconv.Itoa(s.ImageSize),
		"--conf", strconv.FormatFloat(s.Confidence, 'f', -1, 64),
		"--source", source,
		"--project", project,
		"--name", name,
	)
	return Invocation{executable: s.Executable, args: args}
}

// Executable returns the program path.
func (i Invocation) Executable() string { return i.executable }

// Args returns a copy of the argument list.
func (i Invocation) Args() []string {
	out := make([]string, len(i.args))
	copy(out, i.args)
	return out
}
