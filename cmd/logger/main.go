package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/internal/server"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "config file path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Serial Logger v%s (Build: %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config failed: %v\n", err)
		cfg = config.GetDefaultConfig()
		fmt.Println("Using default config")
	}

	log := setupLogger(cfg.Log)
	log.Infof("Serial Logger v%s starting...", Version)
	log.Infof("Config file: %s", *configFile)

	srv, err := server.NewSerialServer(cfg, log)
	if err != nil {
		log.Fatalf("Create logger failed: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Logger failed: %v", err)
	}
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("Open log file failed: %v, using stdout", err)
		}
	}

	return log
}
