package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"

	accountrepofakes "github.com/pulseboard/authgate/accounts/repofakes"
	"github.com/pulseboard/authgate/internal/config"
	"github.com/pulseboard/authgate/internal/secrets"
	memberrepofakes "github.com/pulseboard/authgate/members/repofakes"
	"github.com/pulseboard/authgate/server"
	sessionrepofakes "github.com/pulseboard/authgate/sessions/repofakes"
	tenantrepofakes "github.com/pulseboard/authgate/tenants/repofakes"
	userrepofakes "github.com/pulseboard/authgate/users/repofakes"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	c := config.New()
	displayAppname(c.GetAppName())

	// In-memory stores; swap for persistent implementations per deployment.
	repos := server.Repos{
		Tenants:  tenantrepofakes.NewFakeTenantRepo(),
		Users:    userrepofakes.NewFakeUserRepo(),
		Accounts: accountrepofakes.NewFakeAccountRepo(),
		Members:  memberrepofakes.NewFakeMemberRepo(),
		Sessions: sessionrepofakes.NewFakeSessionRepo(),
	}

	handler, err := server.New(c, repos, secrets.EnvProvider{})
	if err != nil {
		return fmt.Errorf("server.New %w", err)
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(srv)
	waitForStopSignal()
	returnError = shutdown(srv)
	return returnError
}

func listenAndServe(srv *http.Server) error {
	log.Printf("Server listening on %s\n", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
