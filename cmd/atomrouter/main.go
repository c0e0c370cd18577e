package main

import (
	"flag"
	"os"

	"github.com/yourusername/atomrouter/internal/router"
	"github.com/yourusername/atomrouter/internal/routerlog"
)

func main() {
	var cfg router.Config
	flag.StringVar(&cfg.IP, "ip", "127.0.0.1", "listen address")
	flag.IntVar(&cfg.Port, "port", 8080, "listen port")
	flag.StringVar(&cfg.AppsDir, "apps-dir", "apps", "directory module definitions are read from")
	flag.StringVar(&cfg.RunDir, "run-dir", "run", "runtime directory module sockets are created in")
	flag.StringVar(&cfg.DBFilename, "db", "config.db", "sqlite database file")
	flag.StringVar(&cfg.SystemHostname, "system-host", "", "hostname the login form is served on")
	flag.StringVar(&cfg.ShellHostname, "shell-host", "", "default landing hostname after login")
	flag.BoolVar(&cfg.Secure, "secure", false, "router is reached through TLS termination")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := routerlog.New(*debug, os.Stderr)
	if cfg.SystemHostname == "" {
		log.Fatalf("-system-host is required")
	}
	if cfg.ShellHostname == "" {
		cfg.ShellHostname = cfg.SystemHostname
	}

	r, err := router.New(cfg, log)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	if err := r.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
