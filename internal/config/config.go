// Package config parses sidrelay's command line and optional
// device-registry YAML file. The historical single-dash flags
// (`-d1,2`, `-hsHOST`) glue a letter directly to its value, a syntax
// pflag cannot express, so they are scanned by hand exactly as
// original_source/src/config.rs reads env::args() directly. Secondary,
// well-behaved flags use github.com/spf13/pflag, the way
// doismellburning-samoyed's cmd/samoyed-appserver does.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sidrelay/sidrelay/internal/errs"
)

// Options is the parsed result of spec.md §6's CLI flags.
type Options struct {
	AdjustClock    bool
	DeviceNumbers  []int // 0-based; [-1] means "unspecified, use default".
	HostSidDevice  string
	HostUltimate   string
	DisplayStil    bool
	HvscLocation   string
	ListDevices    bool
	SongNumber     int // 0-based; -1 means "unspecified, use tune default".
	Filename       string

	// Secondary flags, parsed with pflag.
	Verbose    bool
	LogLevel   string
	ConfigFile string
}

// Parse reads args (normally os.Args[1:]) into Options. Historical
// single-dash flags are scanned first; whatever pflag doesn't
// recognize as one of those is handed to a pflag.FlagSet for the
// secondary long-form flags, with the final non-flag argument taken as
// the tune filename.
func Parse(args []string) (Options, error) {
	opts := Options{DeviceNumbers: []int{-1}, SongNumber: -1}

	fs := pflag.NewFlagSet("sidrelay", pflag.ContinueOnError)
	fs.BoolVar(&opts.Verbose, "verbose", false, "enable verbose logging")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&opts.ConfigFile, "config", "", "path to a device-registry YAML file")

	var legacy, rest []string
	for _, arg := range args {
		if len(arg) > 1 && arg[0] == '-' && arg[1] != '-' {
			legacy = append(legacy, arg)
		} else {
			rest = append(rest, arg)
		}
	}

	if err := fs.Parse(rest); err != nil {
		return Options{}, errs.Config("parsing command line flags", err)
	}

	for _, argument := range legacy {
		body := argument[1:]
		if body == "" {
			continue
		}
		switch body[0] {
		case 'c':
			opts.AdjustClock = true
		case 'd':
			numbers, err := parseArgumentNumbers("Device number", body[1:])
			if err != nil {
				return Options{}, err
			}
			opts.DeviceNumbers = numbers
		case 'h':
			if len(body) < 2 {
				return Options{}, errs.Config(fmt.Sprintf("unknown option: %s", argument), nil)
			}
			switch body[1] {
			case 's':
				opts.HostSidDevice = body[2:]
			case 'u':
				opts.HostUltimate = body[2:]
			default:
				return Options{}, errs.Config(fmt.Sprintf("unknown option: %s", argument), nil)
			}
		case 'i':
			opts.DisplayStil = true
		case 'l':
			opts.HvscLocation = body[1:]
		case 'p':
			opts.ListDevices = true
		case 's':
			n, err := parseArgumentNumber("Song number", body[1:])
			if err != nil {
				return Options{}, err
			}
			opts.SongNumber = n
		default:
			return Options{}, errs.Config(fmt.Sprintf("unknown option: %s", argument), nil)
		}
	}

	positional := fs.Args()
	if len(positional) < 1 {
		return Options{}, errs.Config("missing music file path", nil)
	}
	opts.Filename = positional[len(positional)-1]

	return opts, nil
}

func parseArgumentNumbers(argName, argValues string) ([]int, error) {
	var numbers []int
	for _, value := range strings.Split(argValues, ",") {
		n, err := parseArgumentNumber(argName, value)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func parseArgumentNumber(argName, argValue string) (int, error) {
	n, err := strconv.Atoi(argValue)
	if err != nil {
		return 0, errs.Config(fmt.Sprintf("%s must be a valid number and must be higher than 0", argName), err)
	}
	if n < 1 {
		return 0, errs.Config(fmt.Sprintf("%s must be higher than 0", argName), nil)
	}
	return n - 1, nil
}
