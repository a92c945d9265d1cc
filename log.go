package tosassembler

import "log"

// verboseMode gates the chatty diagnostics emitted during assembly runs.
var verboseMode bool

// SetVerbose toggles verbose diagnostics for the whole package.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// VerboseLog writes a diagnostic line when verbose mode is on. Assembly
// decisions that are normal but worth seeing (skipped candidates, exhausted
// pools, swallowed side-effect errors) go through here so quiet runs stay
// quiet.
func VerboseLog(format string, v ...interface{}) {
	if verboseMode {
		log.Printf(format, v...)
	}
}
