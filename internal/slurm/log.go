package slurm

import (
	"os"
	"strings"
)

// errorPatterns flag a log line as a failure when found anywhere in it.
var errorPatterns = []string{
	"error", "failed", "exception", "traceback", "stderr",
	"cannot", "unable", "permission denied", "no such file",
	"command not found", "killed", "timeout", "cancelled",
}

var completionWords = []string{"completed", "finished", "done", "success"}

// scanTail is how many trailing log lines ScanForErrors inspects.
const scanTail = 10

// Output returns the collected job log, or a placeholder when the file
// is missing or unreadable.
func Output(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "No SLURM output available"
	}

	return string(b)
}

// ScanLog reads the log at path and scans its tail for failures.
func ScanLog(path string) (bool, string) {
	b, err := os.ReadFile(path)
	if err != nil {
		return true, "Unable to read SLURM log file"
	}

	return ScanForErrors(string(b))
}

// ScanForErrors inspects the last lines of a job log, newest first, and
// reports the most recent line matching a failure pattern. When nothing
// matches, the final line decides between a completion message and a
// neutral one.
func ScanForErrors(content string) (bool, string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, "No log content available"
	}

	lines := strings.Split(content, "\n")
	tail := lines
	if len(lines) > scanTail {
		tail = lines[len(lines)-scanTail:]
	}

	for i := len(tail) - 1; i >= 0; i-- {
		low := strings.ToLower(strings.TrimSpace(tail[i]))
		for _, pat := range errorPatterns {
			if strings.Contains(low, pat) {
				return true, strings.TrimSpace(tail[i])
			}
		}
	}

	last := strings.ToLower(strings.TrimSpace(lines[len(lines)-1]))
	for _, word := range completionWords {
		if strings.Contains(last, word) {
			return false, "Job completed successfully"
		}
	}

	return false, "No errors detected in recent logs"
}
