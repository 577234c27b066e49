// SPDX-License-Identifier: MIT

//go:build windows

package serial

var defaultConfig = Config{
	port: "COM1",
	baud: 115200,
}

// COM ports are not enumerable by glob; the listing is empty on Windows.
var portGlobs []string
