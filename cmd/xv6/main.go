package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/kmain"
	"github.com/NachaFrega/xv6-riscv/user"
	"github.com/NachaFrega/xv6-riscv/user/usertests"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[xv6] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	var (
		configPath = flag.String("config", "", "JSON file describing the machine; defaults are used when empty")
		progName   = flag.String("prog", "usertests", "user program to run: "+strings.Join(usertests.Names(), ", "))
		cpus       = flag.Int("cpus", 0, "override the number of CPUs")
		shootdown  = flag.Bool("shootdown", true, "invalidate the TLBs of other CPUs when page permissions change")
		prefix     = flag.String("prefix", "", "prefix prepended to every console line")
	)
	flag.Parse()

	cfg := kmain.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadConfig(*configPath); err != nil {
			exit(err)
		}
	}
	if *cpus > 0 {
		cfg.CPUs = *cpus
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shootdown" {
			cfg.TLBShootdown = *shootdown
		}
	})

	prog, ok := usertests.Lookup(*progName)
	if !ok {
		exit(fmt.Errorf("unknown program %q", *progName))
	}

	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: os.Stdout, Prefix: []byte(*prefix)})

	k, kerr := kmain.Boot(cfg)
	if kerr != nil {
		exit(kerr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		k.Halt()
	}()

	status, kerr := k.Run(user.Main(prog))
	if kerr != nil {
		exit(kerr)
	}

	os.Exit(status)
}

// loadConfig wraps kmain.LoadConfig so that a nil *kernel.Error is not
// returned as a non-nil error interface.
func loadConfig(path string) (kmain.Config, error) {
	cfg, err := kmain.LoadConfig(path)
	if err != nil {
		return cfg, errors.New(err.Error())
	}
	return cfg, nil
}
