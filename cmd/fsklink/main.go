package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"golang.org/x/sync/errgroup"

	"github.com/hamgrid/fsklink/pkg/fsklink"
	"github.com/hamgrid/fsklink/pkg/fsklink/config"
	"github.com/hamgrid/fsklink/pkg/fsklink/modem"
	"github.com/hamgrid/fsklink/pkg/fsklink/ptt"
	"github.com/hamgrid/fsklink/pkg/fsklink/status"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "fsklink.yaml", "YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")

	flag.Parse()
	if configFile == nil {
		flag.Usage()
		os.Exit(1)
	}
	if *debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	configContents, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error reading config file")
	}
	var opts config.Config
	if err := yaml.Unmarshal(configContents, &opts); err != nil {
		log.Fatal().Err(err).Msg("error unmarshaling yaml file")
	}
	if opts.Baudmode == "" {
		opts.Baudmode = "300"
	}

	baudRate, err := modem.BaudRate(opts.Baudmode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid baudmode")
	}

	var m modem.Modem
	if opts.Loopback {
		log.Info().Msg("using in-memory loopback modem")
		m = modem.NewLoopback(true)
	} else {
		deviceIn, deviceOut, err := resolveAudioDevices(opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to resolve audio devices")
		}

		m, err = modem.NewProcess(modem.ProcessOptions{
			ExecPath:   opts.ModemPath,
			DeviceIn:   deviceIn,
			DeviceOut:  deviceOut,
			Baudmode:   opts.Baudmode,
			SyncByte:   opts.SyncByte,
			Confidence: opts.Confidence,
			Mark:       opts.Mark,
			Space:      opts.Space,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize modem process")
		}
	}

	linkOpts := []fsklink.LinkOption{fsklink.WithLogger(log.Logger)}
	if opts.InfluxDB.Host != "" {
		writeAPI := influxdb2.NewClient(opts.InfluxDB.Host, "").WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
		linkOpts = append(linkOpts, fsklink.WithInfluxDB(writeAPI))
	}

	var syncByte []byte
	if opts.SyncByte != "" {
		syncByte = []byte(opts.SyncByte)
	}

	link, err := fsklink.NewLink(m, fsklink.Options{
		MTU:            opts.MTU,
		BaudRate:       baudRate,
		SyncByte:       syncByte,
		JitterMin:      opts.TxJitterMin,
		JitterMax:      opts.TxJitterMax,
		PTTTail:        opts.PTTTail,
		DurationFactor: opts.DurationFactor,
	}, linkOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create link")
	}

	if opts.PTT.Port != "" {
		line := ptt.Line(opts.PTT.Line)
		if line == "" {
			line = ptt.LineRTS
		}
		key, err := ptt.Open(opts.PTT.Port, line, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open ptt port")
		}
		defer key.Close()
		link.OnPTT(key.Toggle)
	}

	link.OnReceive(func(pkt []byte, confidence float64, ok bool) {
		log.Info().
			Int("size", len(pkt)).
			Float64("confidence", confidence).
			Bool("has_confidence", ok).
			Msg("packet received")
		os.Stdout.Write(pkt)
		os.Stdout.Write([]byte("\n"))
	})

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		return link.Stop()
	})

	eg.Go(func() error {
		return link.Start(ctx)
	})

	if opts.StatusServer.Port != 0 {
		srv := status.NewServer(opts.StatusServer.Port, link)
		eg.Go(func() error {
			return srv.Run(ctx)
		})
	}

	log.Info().
		Str("baudmode", opts.Baudmode).
		Float64("baud_rate", baudRate).
		Msg("fsklink starting")

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}

// resolveAudioDevices turns description-search or explicit config into
// the "card,device" pair handed to the modem processes. An unset
// output falls back to the input device.
func resolveAudioDevices(opts config.Config) (string, string, error) {
	deviceIn := opts.AudioIn
	deviceOut := opts.AudioOut

	if opts.SearchAudioIn != "" {
		dev, err := modem.FindALSADevice(opts.SearchAudioIn, modem.DeviceInput)
		if err != nil {
			return "", "", err
		}
		deviceIn = dev
	}
	if opts.SearchAudioOut != "" {
		dev, err := modem.FindALSADevice(opts.SearchAudioOut, modem.DeviceOutput)
		if err != nil {
			return "", "", err
		}
		deviceOut = dev
	}
	if deviceOut == "" {
		deviceOut = deviceIn
	}

	return deviceIn, deviceOut, nil
}
