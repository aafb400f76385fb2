// Package logging contains the shared loggers used by the echo probe
// and the echo server in a Docker friendly way.
package logging

import (
	golog "log"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/gorilla/handlers"
)

// Logger logs messages on the standard error in a structured JSON
// format, to simplify processing. Emitting logs on the standard error
// keeps the standard output free for measurement samples, which the
// probe prints there, and is consistent with standard practices when
// dockerising a service.
var Logger = log.Logger{
	Handler: json.New(os.Stderr),
	Level:   log.DebugLevel,
}

// MakeAccessLogHandler wraps |handler| with another handler that logs
// access to each resource. The echo server uses it around its
// WebSocket endpoints. We do not emit JSON access logs, because access
// logs are a fairly standard format that has been around for a long
// time now, so better to follow such standard.
func MakeAccessLogHandler(handler http.Handler) http.Handler {
	return handlers.LoggingHandler(golog.Writer(), handler)
}
