package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"voicecrm/audio"
	"voicecrm/backend"
	"voicecrm/beep"
	"voicecrm/capture"
	"voicecrm/config"
	"voicecrm/coordinator"
	"voicecrm/doctor"
	"voicecrm/history"
	"voicecrm/log"
	"voicecrm/recording"
	"voicecrm/shutdown"
	"voicecrm/upload"
)

var version = "dev"

// app wires one backend client, one capture path and the state machine
// around them.
type app struct {
	cfg      config.Config
	audio    audio.Context
	client   *backend.Client
	pipeline *upload.Pipeline
	session  *recording.Session
	coord    *coordinator.Coordinator
}

func newApp(cfg config.Config, actx audio.Context) *app {
	client := backend.New(backend.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Headers: cfg.API.Headers,
	})
	pipeline := upload.New(client)
	adapter := capture.NewAdapter(capture.NewAudioDevice(actx, cfg.Audio.Device), cfg.Audio.MaxBytes)
	session := recording.New(adapter, pipeline)
	return &app{
		cfg:      cfg,
		audio:    actx,
		client:   client,
		pipeline: pipeline,
		session:  session,
		coord:    coordinator.New(session, pipeline, history.NewFetcher(client)),
	}
}

func deviceLabel(name string) string {
	if name == "" {
		return "system default"
	}
	return name
}

func main() {
	configFlag := flag.String("config", "", "Config file (default: $VOICECRM_CONFIG or <user config dir>/voicecrm/config.yaml)")
	apiFlag := flag.String("api", "", "Backend base URL, e.g. http://localhost:8000 (overrides api.base_url)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	timeoutFlag := flag.Duration("timeout", 0, "HTTP timeout for backend requests (overrides api.timeout)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, audio from the WAV file argument)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI (false: read commands from stdin)")
	beepFlag := flag.Bool("beep", true, "Play audible cues (overrides ui.beep)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("voicecrm %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg, err = cfg.WithAPI(*apiFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: -api: %v\n", err)
		os.Exit(1)
	}
	if *timeoutFlag > 0 {
		cfg.API.Timeout = *timeoutFlag
	}
	if *deviceFlag != "" {
		cfg.Audio.Device = *deviceFlag
	}
	if !*beepFlag {
		off := false
		cfg.UI.Beep = &off
	}

	// Resolve log directory early
	logFlag := *logPathFlag
	if logFlag == "" {
		logFlag = cfg.Log.Path
	}
	logPath, err := log.ResolveDir(logFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: voicecrm -test <wav-file>")
			os.Exit(1)
		}
		os.Exit(runTestMode(cfg, args[0]))
	}

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		os.Exit(1)
	}

	if *doctorFlag {
		code := doctor.Run(doctor.Options{
			Audio:    actx,
			Device:   cfg.Audio.Device,
			Backend:  backend.New(backend.Options{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout, Headers: cfg.API.Headers}),
			MaxBytes: cfg.Audio.MaxBytes,
		})
		actx.Close()
		os.Exit(code)
	}

	if *setupFlag && *deviceFlag == "" {
		dev, err := audio.SelectDevice(actx)
		switch {
		case errors.Is(err, audio.ErrSelectionAborted):
			actx.Close()
			os.Exit(0)
		case err != nil:
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		case dev != nil:
			cfg.Audio.Device = dev.Name
		}
	}

	os.Exit(run(cfg, actx, *tuiFlag))
}

func loadConfig(flagPath string) (config.Config, error) {
	path, explicit := config.ResolvePath(flagPath)
	switch {
	case path == "":
		return config.Default(), nil
	case explicit:
		return config.Load(path)
	default:
		return config.LoadOptional(path)
	}
}

func run(cfg config.Config, actx audio.Context, tui bool) int {
	defer actx.Close()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.SessionStart(cfg.API.BaseURL, deviceLabel(cfg.Audio.Device))

	if cfg.BeepEnabled() {
		beep.Init(actx)
	} else {
		beep.Disable()
	}

	a := newApp(cfg, actx)
	defer func() { log.SessionEnd(a.pipeline.Uploads()) }()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)

	if !tui {
		go func() {
			<-sigChan
			log.SessionEnd(a.pipeline.Uploads())
			log.Close()
			os.Exit(0)
		}()
		if err := runScript(a, os.Stdin, os.Stdout); err != nil {
			log.Errorf("command loop: %v", err)
			return 1
		}
		return 0
	}

	p := newTUIProgram(a)
	go func() {
		<-sigChan
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
