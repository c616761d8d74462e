// calendar-feed-sim serves a fake external busy calendar for local testing of
// the calendar-feed connected app: GET /busy?from=...&to=... returns random
// busy intervals inside the window.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

type interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func main() {
	var (
		addr   = flag.String("addr", getenv("ADDR", ":9090"), "listen address")
		token  = flag.String("token", getenv("FEED_TOKEN", ""), "required bearer token (empty disables auth)")
		perDay = flag.Int("per-day", 2, "busy intervals per day")
	)
	flag.Parse()

	http.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		if *token != "" && r.Header.Get("Authorization") != "Bearer "+*token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil || !to.After(from) {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}

		var busy []interval
		for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
			for i := 0; i < *perDay; i++ {
				start := day.Add(time.Duration(8+rand.Intn(9)) * time.Hour)
				end := start.Add(time.Duration(30+rand.Intn(4)*15) * time.Minute)
				if start.After(from) && end.Before(to) {
					busy = append(busy, interval{Start: start, End: end})
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(busy)
	})

	log.Printf("calendar feed simulator listening on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
