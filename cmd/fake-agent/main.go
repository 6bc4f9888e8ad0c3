// ABOUTME: Minimal fake agent webhook for E2E testing — echoes messages as reply_text.
// ABOUTME: Usage: fake-agent [-addr localhost:9090] [-token secret] [-fail mode]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type agentRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	TurnID    int64  `json:"turn_id"`
}

func main() {
	addr := flag.String("addr", "localhost:9090", "HTTP listen address")
	token := flag.String("token", "test-token", "Expected X-Chatbot-Token value")
	fail := flag.String("fail", "", "Failure mode: unauthorized, server, empty, hang")
	delay := flag.Duration("delay", 0, "Artificial response delay")
	flag.Parse()

	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if got := r.Header.Get("X-Chatbot-Token"); got != *token {
			log.Printf("rejected token %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req agentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		log.Printf("received message [turn %d, session %s]: %s", req.TurnID, req.SessionID, req.Message)

		if *delay > 0 {
			time.Sleep(*delay)
		}

		switch *fail {
		case "unauthorized":
			w.WriteHeader(http.StatusForbidden)
			return
		case "server":
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		case "empty":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"ok"}`)
			return
		case "hang":
			// Sit on the request until the client times out
			<-r.Context().Done()
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"reply_text": echoReply(req.Message),
		})
	}

	log.Printf("fake agent listening on %s (fail=%q)", *addr, *fail)
	if err := http.ListenAndServe(*addr, http.HandlerFunc(handler)); err != nil {
		log.Fatal(err)
	}
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "horario") {
		return "Nuestro horario de atención es de 9am a 5pm, de lunes a viernes."
	}
	return fmt.Sprintf("Echo: %s", input)
}
