package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// A mock origin for manual failover runs. Start two of these on different
// ports and point PRIMARY_ORIGIN / BACKUP_ORIGIN at them; the -status and
// -delay flags make the primary fail or time out on demand.
func main() {
	addr := flag.String("addr", ":9091", "origin listen address")
	name := flag.String("name", "origin-a", "name echoed in responses")
	status := flag.Int("status", http.StatusOK, "status code for all responses")
	delay := flag.Duration("delay", 0, "artificial latency before responding")
	redirect := flag.String("redirect", "", "if set, respond 302 with this Location")
	flag.Parse()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *delay > 0 {
			time.Sleep(*delay)
		}
		if *redirect != "" {
			http.Redirect(w, r, *redirect, http.StatusFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(*status)
		_, _ = fmt.Fprintf(w, "name=%s method=%s path=%s fwd-host=%s body=%s\n",
			*name, r.Method, r.URL.Path, r.Header.Get("X-Forwarded-Host"), string(body))
	})

	log.Printf("Mock origin %s listening on %s", *name, *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal(err)
	}
}
