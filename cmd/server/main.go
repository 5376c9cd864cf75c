package main

import (
	"flag"
	"fmt"
	"net/http"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/kpfaulkner/collabstore/cmd/common"
	"github.com/kpfaulkner/collabstore/pkg/server"
	"github.com/kpfaulkner/collabstore/pkg/storage"
)

func main() {
	fmt.Printf("So it begins...\n")
	port := flag.Int("port", 8080, "The server port")
	logLevel := flag.String("loglevel", "info", "Log Level: debug, info, warn, error")
	backend := flag.String("backend", "memory", "Storage backend: memory, badger, pebble, sqlite")
	storePath := flag.String("storepath", ".", "Path of storage location (if persisting to local disk)")
	rps := flag.Float64("ratelimit", 0, "Requests per second allowed per client IP (0 disables)")

	flag.Parse()

	common.SetLogLevel(*logLevel)

	var db storage.DB
	var err error
	switch *backend {
	case "memory":
		db = storage.NewMemDB()
	case "badger":
		db, err = storage.NewBadgerDB(path.Join(*storePath, "badgerdb"))
	case "pebble":
		db, err = storage.NewPebbleDB(path.Join(*storePath, "pebbledb"))
	case "sqlite":
		db, err = storage.NewDBSQLite(path.Join(*storePath, "collabstore.db"))
	default:
		log.Fatalf("unknown backend %q", *backend)
	}
	if err != nil {
		log.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	var rl *server.RateLimiter
	if *rps > 0 {
		burst := int(*rps * 2)
		if burst < 1 {
			burst = 1
		}
		rl = server.NewRateLimiter(*rps, burst)
	}

	handler := server.NewServer(server.NewObjectService(db), rl)

	log.Infof("serving %s backend on port %d", *backend, *port)
	if err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", *port), handler); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
