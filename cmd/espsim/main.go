// espsim emulates an ESP8266 Wi-Fi modem on a serial port, answering the
// classic AT command set and bridging AT+CIPSERVER links onto real TCP
// sockets on the local machine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/espsim/modem/serial"
	"github.com/espsim/modem/sim"
	"github.com/espsim/modem/trace"
)

var version = "undefined"

func main() {
	verbose := pflag.BoolP("verbose", "v", false, "log serial traffic")
	vsn := pflag.Bool("version", false, "report version and exit")
	pflag.Usage = usage
	pflag.Parse()
	if *vsn {
		fmt.Printf("%s %s\n", os.Args[0], version)
		return
	}
	lg := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	args := pflag.Args()
	if len(args) == 0 || (args[0] == "serial" && len(args) < 2) {
		listPorts()
		os.Exit(1)
	}
	if args[0] != "serial" {
		fmt.Fprintf(os.Stderr, "connection type %q not implemented\n", args[0])
		os.Exit(1)
	}
	baud := 115200
	if len(args) > 2 {
		b, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid baud rate %q\n", args[2])
			os.Exit(1)
		}
		baud = b
	}

	p, err := serial.New(serial.WithPort(args[1]), serial.WithBaud(baud))
	if err != nil {
		lg.Error("failed to open serial port", "port", args[1], "err", err)
		os.Exit(1)
	}
	var rw io.ReadWriter = p
	if *verbose {
		rw = trace.New(rw, trace.WithLogger(lg))
	}
	m := sim.New(rw, sim.WithLogger(lg))
	lg.Info("AT modem simulator started", "port", args[1], "baud", baud)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case <-m.Closed():
		lg.Error("serial port lost")
	}
	m.Close()
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s serial <port_path> [baud_rate]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Example: %s serial /dev/ttyUSB0 115200\n\n", os.Args[0])
	pflag.PrintDefaults()
}

func listPorts() {
	fmt.Println("Available serial ports:")
	for _, p := range serial.PortList() {
		fmt.Printf("  %s\n", p)
	}
	fmt.Println()
	usage()
}
