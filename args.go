package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pborman/getopt"
)

const version = "v0.1"

var (
	verboseLog        bool
	quietLog          bool
	configPath        string
	civAddress        byte
	controllerAddress byte
	statusLogInterval time.Duration
	debugPackets      bool
)

// Command line values that override the config file when set.
type argOverrides struct {
	address           string
	civAddress        string
	controllerAddress string
	storePath         string
	bookmarks         string
	squelch           string
	logInterval       uint16
}

type offlineArgs struct {
	list       bool
	exportPath string
	importPath string
	blockRange string
	unblock    string
}

func (o offlineArgs) requested() bool {
	return o.list || o.exportPath != "" || o.importPath != "" || o.blockRange != "" || o.unblock != ""
}

var (
	overrides argOverrides
	offline   offlineArgs
)

func getAboutStr() string {
	return "kappanscan " + version + " - CI-V band scope scanner for Icom transceivers"
}

func parseArgs() {
	h := getopt.BoolLong("help", 'h', "display help")
	v := getopt.BoolLong("verbose", 'v', "Enable verbose (debug) logging")
	q := getopt.BoolLong("quiet", 'q', "Disable logging")
	f := getopt.StringLong("config", 'f', "kappanscan.yaml", "Config file")
	a := getopt.StringLong("address", 'a', "", "CI-V TCP endpoint, host:port")
	c := getopt.StringLong("civ-address", 'c', "", "CI-V address for radio")
	ca := getopt.StringLong("controller-address", 'z', "", "Controller address")
	st := getopt.StringLong("store", 's', "", "Blacklist and settings database")
	b := getopt.StringLong("bookmarks", 'b', "", "Bookmarks JSON file")
	sq := getopt.StringLong("squelch", 'S', "", "Squelch threshold in dB")
	i := getopt.Uint16Long("log-interval", 'i', 0, "Status bar/log interval in milliseconds")
	dp := getopt.BoolLong("debug-packets", 'D', "Show CI-V packets for debugging")

	l := getopt.BoolLong("list", 'l', "List blocked frequencies and exit")
	ex := getopt.StringLong("export", 'x', "", "Export settings and blacklist to file and exit")
	im := getopt.StringLong("import", 'm', "", "Import settings and blacklist from file and exit")
	br := getopt.StringLong("block-range", 'r', "", "Block a frequency range (e.g. 446000000-446200000) and exit")
	ub := getopt.StringLong("unblock", 'u', "", "Unblock a frequency and exit")

	getopt.Parse()

	if *h || (*q && *v) {
		fmt.Println(getAboutStr())
		getopt.Usage()
		os.Exit(1)
	}

	verboseLog = *v
	quietLog = *q
	configPath = *f
	debugPackets = *dp

	overrides = argOverrides{
		address:           *a,
		civAddress:        *c,
		controllerAddress: *ca,
		storePath:         *st,
		bookmarks:         *b,
		squelch:           *sq,
		logInterval:       *i,
	}
	offline = offlineArgs{
		list:       *l,
		exportPath: *ex,
		importPath: *im,
		blockRange: *br,
		unblock:    *ub,
	}
}

// apply puts command line overrides on top of cfg and fills the CI-V
// address globals.
func (o argOverrides) apply(cfg *config) error {
	if o.address != "" {
		cfg.CIV.Address = o.address
	}
	if o.civAddress != "" {
		cfg.CIV.RadioAddress = o.civAddress
	}
	if o.controllerAddress != "" {
		cfg.CIV.ControllerAddress = o.controllerAddress
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if o.bookmarks != "" {
		cfg.Bookmarks = o.bookmarks
	}
	if o.squelch != "" {
		t, err := strconv.ParseFloat(strings.TrimSpace(o.squelch), 64)
		if err != nil {
			return fmt.Errorf("%w: squelch: can't parse %q", errInvalidConfig, o.squelch)
		}
		cfg.Scanner.SquelchThreshold = t
	}
	if o.logInterval > 0 {
		cfg.StatusInterval = int(o.logInterval)
	}

	var err error
	if civAddress, err = parseCIVAddress(cfg.CIV.RadioAddress); err != nil {
		return fmt.Errorf("%w: invalid CI-V address: %v", errInvalidConfig, err)
	}
	if controllerAddress, err = parseCIVAddress(cfg.CIV.ControllerAddress); err != nil {
		return fmt.Errorf("%w: invalid CI-V address for controller: %v", errInvalidConfig, err)
	}
	statusLogInterval = time.Duration(cfg.StatusInterval) * time.Millisecond
	return nil
}
