package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goftl/goftl/ftl"
	"github.com/goftl/goftl/internal/flog"
	"github.com/goftl/goftl/lld"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statsFrame is one message pushed to a connected dashboard: the FTL's
// own counters alongside the host machine's load, so a dashboard can
// correlate flash activity with the process driving it.
type statsFrame struct {
	Flash          ftl.Stats `json:"flash"`
	HostCPUPercent float64   `json:"host_cpu_percent"`
	HostMemUsed    uint64    `json:"host_mem_used"`
}

// runServe mounts an Ftl and streams its stats to any websocket client
// connecting to /stats every -interval (default one second) until
// interrupted. It runs no GC or cache-flush housekeeping of its own.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	c := bindCommon(fs)
	addr := fs.String("addr", ":8090", "listen address for the stats websocket")
	interval := fs.Duration("interval", time.Second, "stats push interval")
	fs.Parse(args)

	f, port, _, err := openFtl(c, false)
	if err != nil {
		return err
	}
	defer port.(*lld.SimFile).Close()

	ctx := context.Background()
	if err := f.Init(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		serveStats(w, r, f, *interval)
	})

	flog.Infof("ftlctl: serving stats on %s/stats", *addr)
	return http.ListenAndServe(*addr, mux)
}

func serveStats(w http.ResponseWriter, r *http.Request, f *ftl.Ftl, interval time.Duration) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		flog.Warnf("ftlctl: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		cpuPct, memUsed := hostSnapshot()
		frame := statsFrame{Flash: f.Stats(), HostCPUPercent: cpuPct, HostMemUsed: memUsed}
		buf, err := json.Marshal(frame)
		if err != nil {
			flog.Warnf("ftlctl: marshaling stats frame failed: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			return
		}
	}
}
