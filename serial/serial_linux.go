// SPDX-License-Identifier: MIT

//go:build linux

package serial

var defaultConfig = Config{
	port: "/dev/ttyUSB0",
	baud: 115200,
}

var portGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyAMA*",
	"/dev/rfcomm*",
}
