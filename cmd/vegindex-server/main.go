package main

/* vegindex-server answers POST /ingest with vegetation and moisture
   index grids for an area of interest. Scenes are searched and fetched
   from the providers listed in the config file, in priority order, and
   the first provider that yields a complete result wins. The config is
   reloaded on SIGHUP; the concurrent ingest cap is fixed at startup.
   SIGINT and SIGTERM drain running ingests and flush the metrics log
   before exit. */

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	reuseport "github.com/kavu/go_reuseport"

	"github.com/nci/vegindex/metrics"
	proc "github.com/nci/vegindex/processor"
	"github.com/nci/vegindex/provider"
	"github.com/nci/vegindex/utils"
)

const shutdownTimeout = 30 * time.Second

var (
	port           = flag.Int("p", 8080, "Server listening port.")
	serverConfDir  = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverConfFile = flag.String("conf", "config.yaml", "Config file name, relative to conf_dir.")
	serverLogDir   = flag.String("log_dir", "", "Server log directory, '-' for stdout.")
	envFile        = flag.String("env", ".env", "Optional dotenv file holding provider credentials.")
	validateConfig = flag.Bool("check_conf", false, "Validate the server config file and exit.")
	archivePool    = flag.Int("archive_pool", 4, "Idle connections kept to the scene archive database.")
	verbose        = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

func envInt(errLog *log.Logger, name string, fallback int64) int64 {
	val, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		errLog.Printf("invalid %s: %v", name, err)
		return fallback
	}
	return v
}

func newMetricsLogger(errLog *log.Logger) metrics.Logger {
	switch *serverLogDir {
	case "":
		return nil
	case "-":
		return metrics.NewStdoutLogger()
	default:
		maxLogFileSize := envInt(errLog, "VEGINDEX_MAX_LOG_FILE_SIZE", 0)
		maxLogFiles := envInt(errLog, "VEGINDEX_MAX_LOG_FILES", -1)
		return metrics.NewFileLogger(*serverLogDir, maxLogFileSize, int(maxLogFiles), *verbose)
	}
}

func main() {
	flag.Parse()

	Error := log.New(os.Stderr, "VEGINDEX: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info := log.New(os.Stdout, "VEGINDEX: ", log.Ldate|log.Ltime|log.Lshortfile)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		Error.Printf("Error in loading %s: %v\n", *envFile, err)
	}

	utils.EtcDir = *serverConfDir
	configFile := filepath.Join(utils.EtcDir, *serverConfFile)

	conf := utils.NewConfig()
	if _, err := os.Stat(configFile); err == nil {
		conf = &utils.Config{}
		if err := conf.LoadConfigFile(configFile); err != nil {
			Error.Printf("Error in loading config file: %v\n", err)
			os.Exit(1)
		}
	} else if *validateConfig {
		Error.Printf("config file %s not found\n", configFile)
		os.Exit(1)
	}
	if *verbose {
		conf.ServiceConfig.Verbose = true
	}

	if *validateConfig {
		Info.Printf("%s is valid\n", configFile)
		os.Exit(0)
	}

	db, err := provider.OpenArchive(*archivePool)
	if err != nil {
		Error.Printf("Error in opening the scene archive: %v\n", err)
		os.Exit(1)
	}

	s := &server{
		Info:          Info,
		Error:         Error,
		MetricsLogger: newMetricsLogger(Error),
		Limiter:       proc.NewConcLimiter(conf.ServiceConfig.MaxIngests),
		Verbose:       *verbose,
	}

	if err := s.configure(conf, db); err != nil {
		Error.Printf("Error in building providers: %v\n", err)
		os.Exit(1)
	}

	utils.WatchConfig(Info, Error, configFile, func(c *utils.Config) error {
		if *verbose {
			c.ServiceConfig.Verbose = true
		}
		if err := s.configure(c, db); err != nil {
			return err
		}
		Info.Printf("config reloaded, providers: %v\n", c.Providers.Order)
		return nil
	})

	l, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Printf("Error in listening on port %d: %v\n", *port, err)
		os.Exit(1)
	}

	hs := &http.Server{Handler: s.routes()}
	done := make(chan struct{})
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		Info.Println("shutting down, waiting for running ingests...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(ctx); err != nil {
			Error.Printf("Error in shutting down: %v\n", err)
		}
		close(done)
	}()

	Info.Printf("vegindex is ready on port %d, providers: %v\n", *port, conf.Providers.Order)
	if err := hs.Serve(l); err != http.ErrServerClosed {
		log.Fatal(err)
	}
	<-done
	s.Close()
	if db != nil {
		db.Close()
	}
}
