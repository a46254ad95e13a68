// Command scanner runs a gate scanner: it reads codes from a line-oriented
// QR reader (stdin or a serial device) and validates each scan once
// against the reservation server.
//
//	scanner -device /dev/ttyACM0 -server http://localhost:8080 -token $(issuetoken -sub gate-3)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/config"
	"github.com/iliyamo/hotel-reservation/internal/scanner"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	device := flag.String("device", scanner.StdinDevice, `scanner device path, "-" for stdin`)
	server := flag.String("server", "http://localhost:8080", "reservation server base URL")
	token := flag.String("token", "", "staff bearer token (default SCANNER_TOKEN)")
	validator := flag.String("validator", "", "validator identity when the server allows anonymous scans")
	interval := flag.Duration("interval", 100*time.Millisecond, "frame polling interval")
	debounce := flag.Duration("debounce", 2*time.Second, "ignore the same code again within this window")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	if *token == "" {
		*token = os.Getenv("SCANNER_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate := scanner.NewGateClient(*server, *token, *validator)
	loop := scanner.NewLoop(&scanner.LineCameraProvider{}, scanner.TextDecoder{}, scanner.Options{
		Interval: *interval,
		Debounce: *debounce,
	})
	defer loop.Stop()

	codes := make(chan string, 1)
	onScan := func(code string) { codes <- code }
	for {
		if err := loop.Start(ctx, *device, onScan); err != nil {
			if g := scanner.Guidance(err); g != "" {
				fmt.Fprintln(os.Stderr, g)
			}
			log.Fatal().Err(err).Msg("scanner unavailable")
		}
		log.Info().Str("device", *device).Msg("ready to scan")

		select {
		case <-ctx.Done():
			return
		case code := <-codes:
			report(ctx, gate, code)
		}
	}
}

func report(ctx context.Context, gate *scanner.GateClient, code string) {
	res, err := gate.Validate(ctx, code)
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		log.Error().Err(err).Str("code", code).Msg("validation failed, scan again")
	case res.Success:
		ev := log.Info().Str("code", code)
		if res.Ticket != nil {
			ev = ev.Str("ticket", res.Ticket.TicketNumber).Str("holder", res.Ticket.HolderName)
		}
		ev.Msg("ADMIT")
	default:
		ev := log.Warn().Str("code", code).Str("reason", res.Reason)
		if res.Ticket != nil && res.Ticket.UsedBy != "" {
			ev = ev.Str("used_by", res.Ticket.UsedBy)
		}
		ev.Msg("REJECT")
	}
}
