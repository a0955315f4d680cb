package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type options struct {
	dir      string
	target   string
	json     bool
	watch    bool
	interval time.Duration
	version  bool
}

// fileDefaults is the shape of an optional TOML config file that supplies
// defaults for any flag the caller didn't set explicitly on the command
// line. Flags always win over the file.
type fileDefaults struct {
	Dir      string `toml:"dir"`
	Target   string `toml:"target"`
	JSON     bool   `toml:"json"`
	Watch    bool   `toml:"watch"`
	Interval string `toml:"interval"`
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("pxcache-inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "optional TOML file of default flag values")
	dir := fs.String("dir", "", "inspect a local cache directory's index.dat directly")
	target := fs.String("target", "", "base URL of a process exposing /debug/pxcache/snapshot")
	jsonOut := fs.Bool("json", false, "print machine-readable JSON instead of a text summary")
	watch := fs.Bool("watch", false, "repeat -target fetches every -interval until interrupted")
	interval := fs.Duration("interval", 2*time.Second, "poll interval for -watch")
	showVersion := fs.Bool("version", false, "print the build version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{
		dir:      *dir,
		target:   *target,
		json:     *jsonOut,
		watch:    *watch,
		interval: *interval,
		version:  *showVersion,
	}

	if *configPath != "" {
		if err := applyFileDefaults(*configPath, opts, fs); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// applyFileDefaults fills in any flag the caller left at its zero value from
// the TOML file at path. It never overrides a flag the caller explicitly
// set (fs.Visit only reports flags actually passed on the command line).
func applyFileDefaults(path string, opts *options, fs *flag.FlagSet) error {
	var fd fileDefaults
	if _, err := toml.DecodeFile(path, &fd); err != nil {
		return fmt.Errorf("pxcache-inspect: reading config %s: %w", path, err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["dir"] && fd.Dir != "" {
		opts.dir = fd.Dir
	}
	if !set["target"] && fd.Target != "" {
		opts.target = fd.Target
	}
	if !set["json"] && fd.JSON {
		opts.json = true
	}
	if !set["watch"] && fd.Watch {
		opts.watch = true
	}
	if !set["interval"] && fd.Interval != "" {
		d, err := time.ParseDuration(fd.Interval)
		if err != nil {
			return fmt.Errorf("pxcache-inspect: config interval %q: %w", fd.Interval, err)
		}
		opts.interval = d
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "pxcache-inspect:", err)
	os.Exit(1)
}
