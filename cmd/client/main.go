package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	client2 "github.com/kpfaulkner/collabstore/client"
	"github.com/kpfaulkner/collabstore/cmd/common"
)

func main() {
	fmt.Printf("So it begins...\n")
	host := flag.String("host", "http://localhost:8080", "base URL of server")
	logLevel := flag.String("loglevel", "info", "Log Level: debug, info, warn, error")
	owner := flag.String("owner", "", "object owner")
	name := flag.String("name", "", "object name")
	payload := flag.String("payload", "", "payload to store")
	create := flag.Bool("create", false, "create the object instead of saving")
	list := flag.Bool("list", false, "list the owner's objects")
	flag.Parse()

	common.SetLogLevel(*logLevel)

	if *owner == "" {
		log.Fatal("need -owner")
	}

	ctx := context.Background()
	c := client2.NewClient(*host)

	if *list {
		objs, err := c.List(ctx, *owner)
		if err != nil {
			log.Fatalf("list failed: %v", err)
		}
		for _, o := range objs {
			fmt.Printf("version %d: %d bytes\n", o.Version, len(o.Payload))
		}
		return
	}

	if *name == "" {
		log.Fatal("need -name")
	}

	if *create {
		version, err := c.Create(ctx, *owner, *name, []byte(*payload))
		if err != nil {
			log.Fatalf("create failed: %v", err)
		}
		fmt.Printf("created %s/%s at version %d\n", *owner, *name, version)
		return
	}

	// load, then optionally save through a session
	session := client2.NewSession(c, *owner, *name)
	if err := session.Load(ctx); err != nil {
		log.Fatalf("load failed: %v", err)
	}
	fmt.Printf("loaded %s/%s version %d (%d bytes)\n", *owner, *name, session.Version(), len(session.Payload()))

	if *payload == "" {
		return
	}

	if err := session.Save(ctx, []byte(*payload)); err != nil {
		if errors.Is(err, client2.ErrConflict) {
			log.Fatalf("save lost to a concurrent edit, reload and retry: %v", err)
		}
		log.Fatalf("save failed: %v", err)
	}
	fmt.Printf("saved %s/%s, now at version %d\n", *owner, *name, session.Version())
}
