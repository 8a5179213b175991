package ws

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/lanrelay/lanrelay/internal/protocol"
	"github.com/lanrelay/lanrelay/internal/session"
)

// Inbound is one entry of the server's aggregate message stream. From is nil
// for messages the server itself sent.
type Inbound struct {
	From    *session.Client
	Message session.Message
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorBody{Error: protocol.ErrorDetail{
		Code:       code,
		Message:    message,
		StatusCode: status,
	}})
}

// queryDetails keeps the first value of every query parameter.
func queryDetails(q url.Values) map[string]string {
	details := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			details[k] = vs[0]
		}
	}
	return details
}

// relayHeaders stamps every response with the relay's identity.
func relayHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", protocol.ServerHeader())
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}
