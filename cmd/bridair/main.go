package main

import (
	"bridair"

	"gopkg.in/yaml.v3"

	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"
	"syscall"
)

var (
	// matches whole line comments in config file
	CONFIG_COMMENTS_RE = regexp.MustCompile(`(?m)^\s*//.*$`)

	// for MQTT server URI validation
	SERVER_URL_RE = regexp.MustCompile(`^[a-z]+://.*:[0-9]{1,5}$`)
)

var (
	configFile = flag.String("config", "/etc/bridair.conf", "config file (JSON, or YAML if named *.yaml)")
	dbPath     = flag.String("db", "/var/lib/bridair/db", "db path")
	debugMode  = flag.Bool("debug", false, "enable debug messages")
	quietMode  = flag.Bool("quiet", false, "reduce verbosity by not showing received upates")
)

// config struct
type config struct {
	ListenAddr string   `yaml:"listen_addr"`
	Interfaces []string `yaml:"interfaces"`

	Pin string `yaml:"pin"`

	Server      string `yaml:"server"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`

	InfluxDB *bridair.InfluxConfig `yaml:"influxdb"`
}

func parseConfig(fname string) (cfg *config, err error) {
	cfgStr, err := os.ReadFile(fname)
	if err != nil {
		return
	}

	// use default topic prefix if not defined in the configuration
	cfg = &config{
		TopicPrefix: bridair.DEFAULT_TOPIC_PREFIX,
	}

	switch strings.ToLower(filepath.Ext(fname)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(cfgStr, cfg)
	default:
		// remove line comments, json.Unmarshal can't parse them
		cfgStr = CONFIG_COMMENTS_RE.ReplaceAllLiteral(cfgStr, []byte{})
		err = json.Unmarshal(cfgStr, cfg)
	}
	if err != nil {
		return
	}

	// sanity check
	if cfg.Server == "" {
		err = fmt.Errorf("MQTT server not specified")
	} else if !SERVER_URL_RE.MatchString(cfg.Server) {
		err = fmt.Errorf("invalid MQTT server: needs to be in URL format with port")
	} else if !strings.HasSuffix(cfg.TopicPrefix, "/") {
		err = fmt.Errorf("invalid TopicPrefix: must end with a /")
	} else if cfg.ListenAddr != "" {
		if _, _, splitErr := net.SplitHostPort(cfg.ListenAddr); splitErr != nil {
			err = fmt.Errorf("invalid ListenAddr: %w", splitErr)
		}
	}

	return
}

func readVcsRevision() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "?"
}

func main() {
	versionStr := fmt.Sprintf("bridair version %s", readVcsRevision())

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), versionStr+"\n"+
			"Brid air purifier sensors over MQTT and HomeKit\n"+
			"\nUsage: %s [options...]\n",
			filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.Parse()

	// check if we are running under systemd, and if so, dont output timestamps
	if a, b := os.Getenv("INVOCATION_ID"), os.Getenv("JOURNAL_STREAM"); a != "" && b != "" {
		log.SetFlags(0)
	}

	if *debugMode && *quietMode {
		log.Fatalf("-quiet and -debug options are mutually-exclusive")
	}

	cfg, err := parseConfig(*configFile)
	if err != nil {
		log.Fatalf("config file error: %v", err)
	}

	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	br := bridair.NewBridge(ctx, *dbPath)
	br.Server = cfg.Server
	br.Username = cfg.Username
	br.Password = cfg.Password
	br.TopicPrefix = cfg.TopicPrefix
	br.ListenAddr = cfg.ListenAddr
	br.Interfaces = cfg.Interfaces
	br.DebugMode = *debugMode
	br.QuietMode = *quietMode

	if _, err := br.SetPin(cfg.Pin); err != nil {
		log.Fatalf("cannot set PIN code: %v", err)
	}

	if cfg.InfluxDB.Enabled() {
		h, err := bridair.NewInfluxHistory(ctx, *cfg.InfluxDB)
		if err != nil {
			log.Printf("history disabled: %v", err)
		} else {
			br.History = h
		}
	}

	if err := br.LoadState(); err != nil {
		log.Printf("cannot load saved state: %v", err)
	}

	log.Println(versionStr)

	err = br.ConnectMQTT()
	if err != nil {
		log.Printf("cannot connect to MQTT: %s", err)
		return
	}

	// listen for termination signals
	c := make(chan os.Signal, 1) // use `1` here to appease go vet: https://github.com/golang/go/issues/45604
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)
	go func() {
		<-c
		signal.Stop(c)
		shutdown()
	}()

	if err := br.WaitConfigured(ctx); err != nil {
		log.Println("shutdown before any device was discovered")
		return
	}

	log.Println("bridair configured. starting HAP server...")

	pin := br.GetPin()
	log.Printf("server PIN is %s-%s", pin[:4], pin[4:])

	err = br.StartHAP()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Printf("HAP server was shutdown")
		} else {
			log.Printf("error starting server: %v", err)
		}
	}
}
