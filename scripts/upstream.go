// Upstream is a simple stand-in for the proxied application, used for
// manual proxy testing. It serves plain pages on every path and a
// WebSocket echo on /_stcore/stream, the same shape as a Streamlit app.
//
// Usage:
//
//	go run upstream.go -port 8501
//
// The server logs all requests, echoes back received WebSocket messages,
// and reports the request headers it saw on /headers.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	port := flag.Int("port", 8501, "port to listen on")
	flag.Parse()

	http.HandleFunc("/_stcore/stream", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("upgrade request from %s (Host: %s)", r.RemoteAddr, r.Host)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				log.Printf("stream closed: %v", err)
				return
			}
			log.Printf("echo %d bytes", len(msg))
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})

	http.HandleFunc("/headers", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"host":    r.Host,
			"headers": r.Header,
		})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

		fmt.Fprintf(w, "upstream says hello on %s\n", r.URL.Path)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("upstream listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
