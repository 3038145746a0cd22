/**
 * @description
 * Structured logger for Macronet Backend.
 * Ensures info messages go to stdout (not stderr) so the platform doesn't label them as errors.
 *
 * @dependencies
 * - standard "os"
 * - standard "log"
 * - standard "fmt"
 */

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	// InfoLogger writes to stdout (deploy platforms won't label as errors)
	InfoLogger *log.Logger
	// ErrorLogger writes to stderr (for actual errors)
	ErrorLogger *log.Logger
	// debugEnabled is toggled once at startup via EnableDebug
	debugEnabled bool
)

func init() {
	// Info logs go to stdout - log collectors will parse these correctly
	InfoLogger = log.New(os.Stdout, "", 0)
	// Error logs go to stderr - log collectors will correctly identify these as errors
	ErrorLogger = log.New(os.Stderr, "", 0)
}

// EnableDebug turns on Debug output. Called once from main after config load.
func EnableDebug() {
	debugEnabled = true
}

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	InfoLogger.Println(message)
}

// Debug logs a debug message to stdout when debug logging is enabled
func Debug(format string, v ...interface{}) {
	if !debugEnabled {
		return
	}
	message := fmt.Sprintf(format, v...)
	InfoLogger.Println("DEBUG: " + message)
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	ErrorLogger.Println(message)
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	ErrorLogger.Fatalln(message)
}

// New creates a new logger that writes to the specified writer
func New(w io.Writer) *log.Logger {
	return log.New(w, "", 0)
}
