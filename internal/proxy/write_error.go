package proxy

import (
	"io"
	"net/http"
)

var statusMessages = map[int]string{
	http.StatusBadGateway:         "The service you've requested is temporarily unavailable, please try again.",
	http.StatusServiceUnavailable: "The service you've requested is not available.",
	http.StatusGatewayTimeout:     "The service you've requested did not respond in a timely manner, please try again.",
}

// WriteError writes a plain-text gateway error page to the response.
func WriteError(writer http.ResponseWriter, statusCode int) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.Header().Set("X-Content-Type-Options", "nosniff")
	writer.WriteHeader(statusCode)
	_, _ = io.WriteString(writer, http.StatusText(statusCode)+"\n"+StatusMessage(statusCode)+"\n")
}

// StatusMessage returns a short, human-readable description of the given HTTP
// status code.
func StatusMessage(statusCode int) string {
	message := statusMessages[statusCode]
	if message == "" {
		if 400 <= statusCode && statusCode <= 599 {
			return "We're sorry, something went wrong!"
		}
		return "That's all we know."
	}
	return message
}
