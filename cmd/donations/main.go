package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"anarchy.ttfm/donations/cmd/donations/internal/router"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/gateways/httpgateway"
	"anarchy.ttfm/donations/gateways/mock"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var app = cli.Command{
	Name:  "donations",
	Usage: "Donation lifecycle and payment gateway routing service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML configuration",
			Value: "config.yaml",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "set debug mode",
		},
		&cli.BoolFlag{
			Name:  "mock-gateways",
			Usage: "Process donations with in-memory gateways instead of the configured providers",
		},
	},
	Action: serve,
	Commands: []*cli.Command{
		{
			Name:  "sandbox",
			Usage: "Run a mock payment processor speaking the gateway HTTP protocol",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Usage: "Listen address",
					Value: "127.0.0.1:9090",
				},
				&cli.StringFlag{
					Name:  "name",
					Usage: "Prefix of the transaction ids",
					Value: "sandbox",
				},
				&cli.StringFlag{
					Name:  "settlement",
					Usage: "Settlement reported on verification: settled, pending or rejected",
					Value: string(gateways.SettlementSettled),
				},
			},
			Action: sandbox,
		},
	},
}

func loadConfig(path string) (cfg Config, err error) {
	configContents, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	err = yaml.Unmarshal(configContents, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, c *cli.Command) (err error) {
	if c.Bool("debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	svc, err := cfg.Compile(c.Bool("mock-gateways"))
	if err != nil {
		return err
	}
	defer svc.Close()

	if svc.Probe != nil {
		go svc.Probe.Run(ctx)
	}
	go svc.Sync.Run(ctx)

	e := gin.Default()
	var r = router.Router{
		ProcessInterval: cfg.ProcessInterval,
		Controller:      svc.Controller,
		Sync:            svc.Sync,
		Methods:         svc.Methods,
		Base:            e,
	}
	r.Register()
	go r.Process(ctx)

	server := &http.Server{Addr: cfg.ListenAddress, Handler: e}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	log.Println("[+] Listening on", cfg.ListenAddress)
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func sandbox(ctx context.Context, c *cli.Command) (err error) {
	m := mock.New(mock.Config{
		Name:       c.String("name"),
		Settlement: gateways.SettlementStatus(c.String("settlement")),
	})

	server := &http.Server{Addr: c.String("listen"), Handler: httpgateway.Handler(m)}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	log.Println("[+] Sandbox processor listening on", c.String("listen"))
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := app.Run(ctx, os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
