package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/mklimuk/nirs/adapter"
	"github.com/mklimuk/nirs/cmd/nirs/console"
	"github.com/mklimuk/nirs/sink"
	"github.com/urfave/cli/v2"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "list USB bridges and serial ports",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
		&usbSerialCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list all HID devices",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list the supported bus bridges",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(adapter.VendorID, adapter.ProductID)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "INDEX\tVENDOR\tPRODUCT\tDEVICE\tPATH\n")
		for i, dev := range devices {
			_, _ = fmt.Fprintf(w, "%d\t%#x\t%#x\tMCP2221\t%s\n", i, dev.VendorID, dev.ProductID, dev.Path)
		}
		_ = w.Flush()
		return nil
	},
}

var usbSerialCmd = cli.Command{
	Name:  "serial",
	Usage: "list serial ports usable for record output",
	Action: func(c *cli.Context) error {
		ports, err := sink.SerialPorts()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		for _, p := range ports {
			console.Print(p)
		}
		return nil
	},
}
