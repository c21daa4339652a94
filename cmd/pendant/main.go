package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mastercactapus/pendant/config"
	"github.com/mastercactapus/pendant/control"
	"github.com/mastercactapus/pendant/detect"
	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/job"
	"github.com/mastercactapus/pendant/logging"
	"github.com/mastercactapus/pendant/mqtt"
	"github.com/mastercactapus/pendant/serial"
	"github.com/mastercactapus/pendant/spjs"
	"github.com/rs/zerolog"
)

func main() {
	file := flag.String("config", "", "Config file to use instead of searching for pendant.yaml.")
	flag.Parse()

	v := config.New(*file)
	cfg, err := config.Load(v)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Log.Level)
	config.Watch(v, func(c *config.Config, e fsnotify.Event) {
		l := logging.SetLevel(c.Log.Level)
		log.Info().Str("file", e.Name).Stringer("level", l).Msg("config changed")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exit")
	}
}

func newOpener(cfg *config.Config, log zerolog.Logger) (detect.Opener, string, func()) {
	if cfg.SPJS.URL == "" {
		return &serial.Opener{
			Device:      cfg.Serial.Device,
			ReadTimeout: cfg.Serial.ReadTimeout,
			Logger:      log,
		}, cfg.Serial.Device, func() {}
	}

	port := cfg.SPJS.Port
	if port == "" {
		port = cfg.Serial.Device
	}
	c := spjs.NewClient(cfg.SPJS.URL, log)
	return &spjs.Opener{Client: c, Port: port}, port, func() { c.Close() }
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	dialects, err := detect.ByName(cfg.Detect.Dialects...)
	if err != nil {
		return err
	}
	opener, port, closeOpener := newOpener(cfg, log)
	defer closeOpener()

	bauds := cfg.Detect.Bauds
	if len(bauds) == 0 {
		bauds = detect.DefaultBauds
	}
	a := newAPI(cfg.Data.Dir, port, bauds, log)
	defer a.close()

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("remote", req.RemoteAddr).Msg("request")
			a.ServeHTTP(w, req)
		}),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	det := detect.New(opener, detect.Options{
		Bauds:    bauds,
		Dialects: dialects,
		Timeout:  cfg.Detect.Timeout,
		Device:   device.Options{PollTimeout: cfg.Device.Poll, Logger: log},
		Logger:   log,
	})
	dev, err := det.Detect(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()
	log.Info().Str("dialect", dev.Dialect()).Int("baud", dev.Baud()).Msg("controller detected")

	runner := job.NewRunner(dev, cfg.Data.Dir, log)
	dev.AddObserver(runner)
	go runner.Run(ctx, job.DefaultStepInterval)

	a.attach(dev, control.New(dev, control.OffsetCommand(cfg.Control.WCOOffsetCmd)), runner)

	if cfg.MQTT.Broker != "" {
		relay, err := mqtt.Connect(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		}, log)
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt connect")
		} else {
			relay.Attach(dev)
			defer relay.Close()
		}
	}

	return dev.Run(ctx, cfg.Device.StatusInterval)
}
