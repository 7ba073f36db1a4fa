package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/camkit/protect-stream/camera"
	"github.com/camkit/protect-stream/config"
	"github.com/camkit/protect-stream/device"
	"github.com/camkit/protect-stream/metrics"
	"github.com/camkit/protect-stream/session"
	"github.com/camkit/protect-stream/timeshift"
)

// staticController serves a camera whose source needs no controller round
// trips: channels are always enabled and the talkback endpoint comes from a
// flag. The full vendor controller client plugs in behind the same
// interface.
type staticController struct {
	log         zerolog.Logger
	talkbackURL string
}

func (c *staticController) EnableSourceChannel(deviceID, channel string) error {
	c.log.Debug().Str("device", deviceID).Str("channel", channel).Msg("channel enabled")
	return nil
}

func (c *staticController) TalkbackEndpoint(deviceID string) (string, error) {
	if c.talkbackURL == "" {
		return "", os.ErrNotExist
	}
	return c.talkbackURL, nil
}

func (c *staticController) SetFlashlight(deviceID string, on bool) error {
	c.log.Info().Str("device", deviceID).Bool("on", on).Msg("flashlight")
	return nil
}

func main() {
	var name = flag.String("name", "Camera", "name for the camera")
	var kind = flag.String("kind", "camera", "device variant: camera, doorbell, package")
	var streamURL = flag.String("streamURL", "", "RTSP address of the camera's stream")
	var liveURL = flag.String("liveURL", "", "websocket livestream address for timeshift buffering")
	var width = flag.Uint("width", 1920, "stream width")
	var height = flag.Uint("height", 1080, "stream height")
	var fps = flag.Uint("fps", 30, "stream frame rate")
	var bitrate = flag.Uint("bitrate", 3000, "source bitrate in kbps")
	var codec = flag.String("codec", "h264", "source video codec")
	var talkbackURL = flag.String("talkbackURL", "", "return-audio endpoint on the camera")
	var twoWayAudio = flag.Bool("twoWayAudio", false, "whether the camera supports return audio")
	var timeshiftOn = flag.Bool("timeshift", false, "keep a rolling buffer for instant recording starts")
	flag.Parse()

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)

	if *streamURL == "" {
		log.Fatal().Msg("-streamURL is required")
	}

	deviceKind := device.KindCamera
	switch *kind {
	case "doorbell":
		deviceKind = device.KindDoorbell
	case "package":
		deviceKind = device.KindPackageCamera
	}

	dev := device.NewDevice("local", *name, deviceKind, device.Capabilities{
		HasMicrophone: *twoWayAudio,
		HasSpeaker:    *twoWayAudio,
		TwoWayAudio:   *twoWayAudio,
	}, []device.StreamProfile{{
		Channel: "default",
		Width:   *width,
		Height:  *height,
		FPS:     *fps,
		URL:     *streamURL,
		LiveURL: *liveURL,
		Bitrate: *bitrate,
		Codec:   *codec,
	}})

	opts := camera.Options{
		FFmpegPath:           cfg.FFmpegPath,
		ForceTranscode:       cfg.ForceTranscode,
		CropFilter:           cfg.CropFilter,
		HighLatencyTranscode: cfg.HighLatencyTranscode,
		NativeCodec:          "h264",
		Retention:            cfg.Retention,
	}
	switch cfg.EncoderProfile {
	case "VAAPI":
		opts.Encoder = camera.VAAPI
	case "QSV":
		opts.Encoder = camera.QSV
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctrl := &staticController{log: log, talkbackURL: *talkbackURL}
	ports := session.NewPortAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
	ports.SetGauge(m.PortsInUse)
	neg := session.NewNegotiator(log, ports, ctrl, *twoWayAudio)
	buffers := timeshift.NewRegistry(log, timeshift.WebsocketOpener{})
	buffers.SetSegmentsGauge(m.TimeshiftSegments)

	orch := camera.NewOrchestrator(log, opts, dev, ctrl, neg, buffers, m)

	if *timeshiftOn {
		if *liveURL == "" {
			log.Fatal().Msg("-timeshift requires -liveURL")
		}
		if err := orch.EnableTimeshift(); err != nil {
			log.Fatal().Err(err).Msg("timeshift")
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	log.Info().Str("device", *name).Str("kind", deviceKind.String()).Msg("protect-stream running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	orch.Shutdown()
	buffers.Shutdown()
}
