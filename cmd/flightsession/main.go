package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tiiuae/flightsession/internal/config"
	"github.com/tiiuae/flightsession/internal/feed"
	"github.com/tiiuae/flightsession/internal/journal"
	"github.com/tiiuae/flightsession/internal/link"
	"github.com/tiiuae/flightsession/internal/session"
	"github.com/tiiuae/flightsession/internal/telemetry"
	"github.com/tiiuae/flightsession/internal/types"
)

var (
	defaultFlagSet    = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath        = defaultFlagSet.String("config", "", "Path to the YAML configuration")
	deviceID          = defaultFlagSet.String("device_id", "", "The provisioned device id")
	mqttBrokerAddress = defaultFlagSet.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	privateKeyPath    = defaultFlagSet.String("private_key", "", "The private key for the MQTT authentication")
	serialPort        = defaultFlagSet.String("serial_port", "", "Use a serial radio link on this port instead of MQTT")
	journalPath       = defaultFlagSet.String("journal", "", "SQLite command journal path")
	feedAddress       = defaultFlagSet.String("feed_addr", "", "Listen address of the websocket feed")
)

type linkHandler interface {
	link.Link
	types.MessageHandler
}

func main() {
	defaultFlagSet.Parse(os.Args[1:])

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	// quitFunc will be called when process is terminated
	ctx, quitFunc := context.WithCancel(context.Background())

	// wait group will make sure all goroutines have time to clean up
	var wg sync.WaitGroup

	radio, closeLink, err := openLink(cfg.Link)
	if err != nil {
		log.Fatal(err)
	}
	defer closeLink()

	s := session.New(radio, link.EncodeCommand, sessionOptions(cfg.Session),
		session.WithTickInterval(cfg.Session.TickInterval()),
		session.WithStatsInterval(cfg.Session.StatsInterval()))

	handlers := []types.MessageHandler{types.NewLogger(), radio, s}
	if cfg.Journal.Path != "" {
		handlers = append(handlers, journal.New(cfg.Journal.Path))
	}
	if cfg.Feed.Address != "" {
		handlers = append(handlers, feed.New(cfg.Feed.Address))
	}

	messagebus := make(chan types.Message, 100)
	bus := types.NewMessageBus(messagebus, handlers...)

	go bus.Run(ctx, &wg)

	// wait for termination and close quit to signal all
	<-terminationSignals
	// cancel the main context
	log.Printf("Shutting down..")
	quitFunc()

	// wait until goroutines have done their cleanup
	log.Printf("Waiting for routines to finish...")
	wg.Wait()
	log.Printf("Signing off - BYE")
}

// loadConfig reads the config file and applies command line overrides
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	if *deviceID != "" {
		cfg.Link.DeviceID = *deviceID
	}
	if *mqttBrokerAddress != "" {
		cfg.Link.Broker = *mqttBrokerAddress
	}
	if *privateKeyPath != "" {
		cfg.Link.PrivateKey = *privateKeyPath
	}
	if *serialPort != "" {
		cfg.Link.Type = config.LinkSerial
		cfg.Link.SerialPort = *serialPort
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}
	if *feedAddress != "" {
		cfg.Feed.Address = *feedAddress
	}

	return cfg, cfg.Validate()
}

func openLink(c config.LinkConfig) (linkHandler, func(), error) {
	switch c.Type {
	case config.LinkSerial:
		s, err := link.OpenSerial(c.SerialPort, c.BaudRate)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.LinkMQTT:
		if c.DeviceID == "" {
			return nil, nil, fmt.Errorf("mqtt link needs a device id")
		}
		client, err := link.DialMQTT(link.MQTTOptions{
			Broker:          c.Broker,
			DeviceID:        c.DeviceID,
			ClientID:        c.DeviceID,
			PrivateKeyPath:  c.PrivateKey,
			Algorithm:       c.Algorithm,
			Audience:        c.Audience,
			ConnectTimeout:  c.ConnectTimeout(),
			ConnectAttempts: c.ConnectAttempts,
		})
		if err != nil {
			return nil, nil, err
		}
		return link.NewMQTT(client, c.DeviceID), func() { client.Disconnect(1000) }, nil
	}
	return nil, nil, fmt.Errorf("unknown link type %q", c.Type)
}

func sessionOptions(c config.SessionConfig) session.Options {
	return session.Options{
		MinGPSSignal:    telemetry.GPSSignalLevel(c.MinGPSSignalForMission),
		StickTimeout:    c.VirtualStickTimeout(),
		CommandDeadline: c.CommandDeadline(),
		QueueCapacity:   c.PendingQueueCapacity,
	}
}
