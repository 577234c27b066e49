// SPDX-License-Identifier: MIT

//go:build darwin

package serial

var defaultConfig = Config{
	port: "/dev/tty.usbserial",
	baud: 115200,
}

var portGlobs = []string{
	"/dev/tty.usbserial*",
	"/dev/tty.usbmodem*",
	"/dev/cu.usbserial*",
	"/dev/cu.usbmodem*",
}
