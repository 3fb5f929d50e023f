// Package handlers contains all HTTP handler functions for the public and
// admin servers. handlers receive a decoded request, call into the pool or
// the event journal, and write a response. no pool logic lives in
// handlers; they are thin translation layers between HTTP and the core.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJsonAndRespond serializes the given payload to JSON and writes it
// with the given status code. all handlers use this instead of calling
// json.NewEncoder directly, keeping the response format consistent across
// the API.
//
// json.Marshal buffers the whole payload before anything is written, so an
// encoding failure can still be turned into a clean 500 instead of a
// half-sent 200.
func writeJsonAndRespond(responseWriter http.ResponseWriter, statusCode int, dataPayload any) {
	responseWriter.Header().Set("Content-Type", "application/json")

	serializedData, err := json.Marshal(dataPayload)
	if err != nil {
		http.Error(responseWriter, `{"status":500}`, http.StatusInternalServerError)
		return
	}

	responseWriter.WriteHeader(statusCode)
	responseWriter.Write(serializedData) // nolint:errcheck -- write errors are not actionable server-side
}

// writeStatusJson writes the uniform error body {"status": <code>} used
// for error outcomes on the public API. the pool-full answers are the
// exception: /api/spawn returns 429 {"status":"full"} and /spawn renders
// the full page.
func writeStatusJson(responseWriter http.ResponseWriter, statusCode int) {
	writeJsonAndRespond(responseWriter, statusCode, map[string]int{"status": statusCode})
}

// writeErrorJsonAndLogIt logs the error server-side and sends the uniform
// status body to the client. the message stays in the logs; clients only
// ever see the code, never internal error text.
func writeErrorJsonAndLogIt(
	responseWriter http.ResponseWriter,
	statusCode int,
	message string,
	logger *slog.Logger,
) {
	logger.Error("request error", "status", statusCode, "message", message)
	writeStatusJson(responseWriter, statusCode)
}
