package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "xtrxsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `xtrxsrv drives Fairwaves XTRX boards and exposes an HTTP interface to them.

Usage:
	xtrxsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version
	probe [index]
	rxtest [index] [samples]`
	fmt.Println(str)
}

func help() {
	str := `xtrxsrv is amenable to configuration via its .yaml file, xtrxsrv.yml in the
working directory.  Run "xtrxsrv mkconf" to write one with the defaults.

Each entry in Devices opens /dev/litepcie<Index> and serves it under Endpoint,
for example Endpoint "sdr/0" gives /sdr/0/rx/frequency.  Mock: true serves an
in-memory board instead, useful for clients without hardware.

Profile is the name of a built-in bring-up profile or a path to a YAML one.
Built-in profiles: xtrx-rev4, xtrx-rev5.  CSRMap optionally names a LiteX
csr.csv from the gateware build.

Routes per device (channel as ?ch=0 or ?ch=1):
	GET/POST rx/frequency tx/frequency rx/gain tx/gain rx/bandwidth tx/bandwidth
	GET/POST rx/antenna tx/antenna sample-rate lock
	GET      rx/antenna-options tx/antenna-options info locked hardware-time
	         stream/stats log
	POST     csr/read csr/write lms/read lms/write
	DELETE   log

Root routes: GET /endpoints, GET /metrics.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("xtrxsrv version %v\n", Version)
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func intArg(args []string, i, def int) int {
	if len(args) <= i {
		return def
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		log.Fatalf("argument %d: %v", i, err)
	}
	return v
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "run":
		err = run(ctx, loadConfig())
	case "probe":
		err = probe(ctx, loadConfig(), intArg(args, 2, 0))
	case "rxtest":
		err = rxtest(ctx, loadConfig(), intArg(args, 2, 0), intArg(args, 3, 1<<20))
	default:
		log.Fatal("unknown command")
	}
	if err != nil {
		stop()
		log.Fatal(err)
	}
}
