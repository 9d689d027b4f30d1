// Command minarch runs a libretro core against a ROM under the MinArch
// core host loop: minarch <core.so> <rom-path>.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/minarch-dev/minarch/internal/avbridge"
	"github.com/minarch-dev/minarch/internal/corehost"
	"github.com/minarch-dev/minarch/internal/logging"
	"github.com/minarch-dev/minarch/internal/rewind"
	"github.com/minarch-dev/minarch/internal/scaler"
)

const (
	defaultScreenWidth  = 640
	defaultScreenHeight = 480
	defaultHDMIWidth    = 1920
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "minarch:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: minarch <core-shared-library> <rom-path>")
	}
	corePath, romPath := args[0], args[1]

	log := logging.Default("minarch")
	device := os.Getenv("DEVICE")
	if device != "" {
		log.Infof("device overlay requested: %s", device)
	}

	cfg := corehost.Config{
		SystemDirectory: envOr("MINARCH_SYSTEM_DIR", "./system"),
		SaveDirectory:   envOr("MINARCH_SAVE_DIR", "./saves"),
		ScreenWidth:     defaultScreenWidth,
		ScreenHeight:    defaultScreenHeight,
		HDMIWidth:       defaultHDMIWidth,
		ScalerPolicy:    scaler.PolicyAspectScreen,
		MaxFFSpeed:      3,
		Rewind: rewind.Config{
			Enabled:      true,
			BufferMB:     16,
			IntervalMS:   100,
			PlaybackIntervalMS: 33,
			Compress:     true,
			LZ4Acceleration: 1,
		},
		Notifier:    logNotifier{log: log},
		Video:       logVideoSink{log: log},
		Audio:       nullAudioSink{},
		CPUFreqPath: os.Getenv("MINARCH_CPUFREQ_PATH"),
		Log:         log,
	}

	h := corehost.New(cfg)
	h.Governor.Set(corehost.TierPerformance)
	if err := h.Open(corePath); err != nil {
		return fmt.Errorf("open core: %w", err)
	}
	h.Init()
	defer h.Close()

	if err := h.LoadGame(romPath, cfg.Rewind); err != nil {
		return fmt.Errorf("load game: %w", err)
	}
	log.Infof("loaded %s", filepath.Base(romPath))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	frameInterval := time.Second / 60
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	// This CLI has no physical input device to poll: h.Input.Poll and
	// h.Shortcuts.Poll (save-state/load-state/reset/fast-forward/rewind
	// shortcuts) need a "button pressed" source, which is a GFX/PAD
	// platform-layer concern this headless runner never implements, per
	// the platform-facade boundary avbridge.VideoSink/AudioSink also
	// stand in for above. A platform build wires a real pressed map into
	// h.Shortcuts.Poll/h.Input.Poll here, dispatches the returned events
	// (ShortcutSaveState -> h.State.Save, etc.), and passes
	// h.Shortcuts.FastForwardActive() into RunFrame instead of the
	// hardcoded false below.
	for {
		select {
		case <-sigCh:
			log.Infof("shutdown requested")
			return nil
		case <-ticker.C:
			h.RunFrame(false)
			if h.ShutdownRequested() {
				log.Infof("core requested shutdown")
				return nil
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// logNotifier surfaces core messages via the logger; a real platform
// build would route these to an on-screen toast.
type logNotifier struct{ log *logging.Logger }

func (n logNotifier) Notify(message string) {
	n.log.Infof("core message: %s", strings.TrimSpace(message))
}

// logVideoSink discards frame data and geometry without logging them,
// standing in for the platform GFX facade this core never implements
// directly.
type logVideoSink struct{ log *logging.Logger }

func (s logVideoSink) Present(rgba []byte, geom scaler.Geometry) {}

// nullAudioSink discards samples, standing in for the platform SND
// facade.
type nullAudioSink struct{}

func (nullAudioSink) Submit(samples []int16) {}

var _ avbridge.VideoSink = logVideoSink{}
var _ avbridge.AudioSink = nullAudioSink{}
