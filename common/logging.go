// Package common provides centralized logging infrastructure for the KPI
// operations platform. It implements output routing that directs error
// messages to stderr while sending other log levels to stdout, enabling
// proper stream separation for containerized and scripted environments.
//
// The logging system is built on logrus for structured logging. All packages
// in the platform log through the global Logger instance so that tenant ids,
// event ids and operation names appear as structured fields and can be
// processed uniformly by log aggregation tooling.
//
// Output Routing Strategy:
//
//	Error-level messages are directed to stderr (for immediate attention
//	and alerting) while info, debug, and warning messages go to stdout
//	(for general log processing).
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their severity level. It examines the rendered output for the level=error
// marker produced by the logrus text and JSON formatters, so it works with
// either formatter without configuration.
type OutputSplitter struct{}

// Write implements io.Writer. Messages containing "level=error" go to
// stderr; everything else goes to stdout. Errors from the underlying
// streams are propagated to satisfy the io.Writer contract.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the platform. It is
// pre-configured with the OutputSplitter and used by every package so that
// formatting, level filtering and stream routing stay consistent.
//
// Structured usage:
//
//	common.Logger.WithFields(logrus.Fields{
//	    "client_id": "SITE-A",
//	    "operation": "ingest",
//	}).Info("batch committed")
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// ConfigureLogger applies the level and format selected through
// configuration. Unknown values fall back to info level and text format so
// a typo in an environment variable never silences the process.
func ConfigureLogger(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)

	switch format {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
