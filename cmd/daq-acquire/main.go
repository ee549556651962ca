// daq-acquire streams samples from a Comedi-supported DAQ card, converts the
// raw codes to physical units through the card's calibration, and prints one
// timestamped line per (possibly integrated) scan to standard output.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	daq "github.com/Enchufa2/daq-acquire"
	"github.com/Enchufa2/daq-acquire/comedi"
	"github.com/Enchufa2/daq-acquire/internal/linewriter"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets the tool defaults.
func setupViper() error {
	viper.SetDefault("device", "/dev/comedi0")
	viper.SetDefault("subdevice", 0)
	viper.SetDefault("channels", "0")
	viper.SetDefault("aref", comedi.ARefGround)
	viper.SetDefault("range", 0)
	viper.SetDefault("frequency", 10000.0)
	viper.SetDefault("nscan", 0)
	viper.SetDefault("integrate", 1)
	viper.SetDefault("verbose", false)
	viper.SetDefault("fulltime", false)

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("error finding user home dir: %w", err)
	}
	dotDir := filepath.Join(home, ".daq-acquire")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotDir, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/daq-acquire"))
	viper.AddConfigPath(dotDir)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Could not open log file '%s'", pfname))
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,  // megabytes after which new file is created
		MaxBackups: 4,   // number of backups
		MaxAge:     180, // days
		Compress:   true,
	})
	return probLogger
}

// parseChannels splits a comma-delimited channel list.
func parseChannels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	channels := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ch, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad channel %q: %w", p, err)
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("channel list %q is empty", s)
	}
	return channels, nil
}

func parseFlags(args []string) (daq.Configuration, error) {
	cfg := daq.DefaultConfiguration()

	fs := flag.NewFlagSet("daq-acquire", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Small utility to acquire samples with Comedi-supported DAQ cards.\n\n"+
				"Usage: daq-acquire [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	chanList := fs.String("c", viper.GetString("channels"), "channel list (by commas)")
	fs.StringVar(&cfg.Device, "d", viper.GetString("device"), "device file")
	fs.IntVar(&cfg.Subdevice, "s", viper.GetInt("subdevice"), "subdevice id")
	fs.IntVar(&cfg.ARef, "a", viper.GetInt("aref"), "aref id")
	fs.IntVar(&cfg.Range, "r", viper.GetInt("range"), "range id")
	fs.Float64Var(&cfg.Frequency, "f", viper.GetFloat64("frequency"), "scan frequency in Hz")
	fs.IntVar(&cfg.StopCount, "n", viper.GetInt("nscan"), "number of scans (0 means run indefinitely)")
	fs.IntVar(&cfg.Integrate, "I", viper.GetInt("integrate"), "integration scans per output row")
	fs.BoolVar(&cfg.Verbose, "v", viper.GetBool("verbose"), "verbose")
	fs.BoolVar(&cfg.FullTime, "T", viper.GetBool("fulltime"), "print full timestamps instead of elapsed seconds")
	fs.StringVar(&cfg.Calibration, "cal", viper.GetString("calibration"), "software calibration file")
	fs.IntVar(&cfg.PublishPort, "publish", viper.GetInt("publish"), "publish rows on this ZMQ PUB port (0 disables)")
	fs.StringVar(&cfg.NpyPath, "npy", viper.GetString("npy"), "also save the run to this NumPy file")
	fs.BoolVar(&cfg.Realtime, "rt", viper.GetBool("realtime"), "elevate to SCHED_FIFO and pin to one CPU")
	printVersion := fs.Bool("version", false, "print version and quit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *printVersion {
		fmt.Printf("This is daq-acquire version %s\n", daq.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	channels, err := parseChannels(*chanList)
	if err != nil {
		return cfg, err
	}
	cfg.Channels = channels
	return cfg, nil
}

func run() error {
	daq.Build.Githash = githash
	daq.Build.Date = buildDate
	daq.Build.Summary = fmt.Sprintf("daq-acquire version %s (git commit %s)", daq.Build.Version, githash)
	if host, err := os.Hostname(); err == nil {
		daq.Build.Host = host
	} else {
		daq.Build.Host = "host not detected"
	}

	if err := setupViper(); err != nil {
		return err
	}

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Problems and verbose chatter go to a rotating log file; stdout stays
	// clean for data.
	home, err := os.UserHomeDir()
	if err == nil {
		logdir := filepath.Join(home, ".daq-acquire", "logs")
		if problemname, err2 := makeFileExist(logdir, "problems.log"); err2 == nil {
			daq.ProblemLogger = startLogger(problemname)
		}
	}
	daq.ProblemLogger.Printf("%s on %s, process started %s",
		daq.Build.Summary, daq.Build.Host, daq.StartTime.Format(time.RFC3339))

	if cfg.Realtime {
		if err := daq.EnableRealtime(); err != nil {
			daq.ProblemLogger.Printf("could not enable real-time scheduling: %v", err)
		}
	}

	var dev comedi.Device
	if cfg.Device == "sim" {
		sim := comedi.NewSimDevice(1 << 16)
		sim.SelfClock = true
		dev = sim
	} else {
		if dev, err = comedi.Open(cfg.Device); err != nil {
			return err
		}
	}
	defer dev.Close()

	flags, err := dev.SubdeviceFlags(cfg.Subdevice)
	if err != nil {
		return fmt.Errorf("querying subdevice flags: %w", err)
	}
	conv, err := daq.NewConverter(dev, &cfg, flags)
	if err != nil {
		return err
	}

	out := linewriter.New(os.Stdout, 4096, 100*time.Millisecond)
	sinks := []daq.RowSink{daq.NewTextSink(out, cfg.FullTime)}

	runID := daq.NewRunID()
	if cfg.PublishPort > 0 {
		pub, err := daq.NewPubSink(cfg.PublishPort, runID)
		if err != nil {
			return err
		}
		sinks = append(sinks, pub)
	}
	if cfg.NpyPath != "" {
		if cfg.StopCount == 0 {
			daq.ProblemLogger.Printf("warning: -npy with an unbounded run accumulates rows without limit")
		}
		sinks = append(sinks, daq.NewNpySink(cfg.NpyPath))
	}
	sink := daq.MultiSink(sinks...)

	acq, err := daq.NewAcquisition(dev, cfg, conv, sink, runID)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		daq.ProblemLogger.Printf("run %s: device %s subdevice %d channels %v at %g Hz",
			runID, cfg.Device, cfg.Subdevice, cfg.Channels, cfg.Frequency)
	}

	runErr := acq.Run()
	if closeErr := sink.Close(); runErr == nil {
		runErr = closeErr
	}
	if flushErr := out.Close(); runErr == nil {
		runErr = flushErr
	}
	return runErr
}

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "daq-acquire: %v\n", err)
		}
		os.Exit(1)
	}
	os.Exit(0)
}
