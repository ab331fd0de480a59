// Command clajserver runs the relay: it wires configuration into a
// Relay, starts the transport and dispatcher, serves the read-only
// status endpoint, and drives the operator console from stdin, all in
// one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xpdustry/claj/internal/config"
	"github.com/xpdustry/claj/internal/control"
	"github.com/xpdustry/claj/internal/httpapi"
	"github.com/xpdustry/claj/internal/relay"
	"github.com/xpdustry/claj/internal/room"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.FromEnv()

	r := relay.New(cfg, log)
	if err := r.Start(); err != nil {
		log.Error("relay start failed", "err", err)
		os.Exit(1)
	}

	httpAddr := os.Getenv("CLAJ_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", httpapi.WithCORS(httpapi.ServeStatus(r)))
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		log.Info("status api listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status api failed", "err", err)
		}
	}()

	console := control.New(consoleAdapter{r}, log, os.Stdin, os.Stdout)
	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		console.Run()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info("received signal, shutting down", "signal", s.String())
	case <-consoleDone:
		log.Info("console closed, shutting down")
	}

	r.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	fmt.Println("claj relay stopped")
}

// consoleAdapter bridges relay.Relay to control.Core, translating
// between relay.Status and control.StatusView so neither package needs
// to import the other's DTOs.
type consoleAdapter struct {
	r *relay.Relay
}

func (a consoleAdapter) Status() control.StatusView {
	s := a.r.Status()
	v := control.StatusView{RoomCount: s.RoomCount, ConnectionCount: s.ConnectionCount, Closing: s.Closing}
	for _, rm := range s.Rooms {
		v.Rooms = append(v.Rooms, control.RoomView{
			ShortID:    room.ShortIDOf(rm.ID),
			Type:       rm.Type.String(),
			Clients:    rm.ClientCount,
			PacketsIn:  rm.PacketsToHost,
			PacketsOut: rm.PacketsFromHost,
		})
	}
	return v
}

func (a consoleAdapter) Stop()                             { a.r.Stop() }
func (a consoleAdapter) SetSpamLimit(n int)                 { a.r.SetSpamLimit(n) }
func (a consoleAdapter) SetJoinLimit(n int)                 { a.r.SetJoinLimit(n) }
func (a consoleAdapter) Blacklist(addr string, add bool)    { a.r.Blacklist(addr, add) }
func (a consoleAdapter) BlacklistType(typ string, add bool) { a.r.BlacklistType(typ, add) }
func (a consoleAdapter) SetWarnDeprecated(v bool)           { a.r.SetWarnDeprecated(v) }
func (a consoleAdapter) SetWarnClosing(v bool)              { a.r.SetWarnClosing(v) }
func (a consoleAdapter) Say(msg string)                     { a.r.Say(msg) }
func (a consoleAdapter) RefreshRoom(shortID string) bool    { return a.r.RefreshRoom(shortID) }
func (a consoleAdapter) RefreshList(typ string)             { a.r.RefreshList(typ) }
func (a consoleAdapter) Version() int32                     { return a.r.Version() }
