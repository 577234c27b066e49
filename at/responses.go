package at

// Canned response and notification text, reproduced bit-exact from the
// ESP8266 NONOS AT firmware (AT 0.51 / SDK 1.5.0) that this modem emulates.
const (
	rspOK    = "\r\n\r\nOK\r\n"
	rspError = "\r\n\r\nERROR\r\n"

	rspGMR = "\r\nAT version:0.51.0.0(Nov 27 2015 13:37:21)\r\n" +
		"SDK version:1.5.0\r\n" +
		"compile time:Nov 27 2015 13:58:02\r\n" +
		"\r\nOK\r\n"

	rspCWLAP = "\r\n" +
		"+CWLAP:(4,\"rede1\",-91,\"30:b5:c2:2b:58:de\",1)\r\n" +
		"+CWLAP:(0,\"netmail12\",-88,\"00:0c:42:18:c6:4c\",2)\r\n" +
		"+CWLAP:(0,\"netmail10\",-91,\"00:0c:42:1f:1d:81\",7)\r\n" +
		"+CWLAP:(0,\"netmail11\",-84,\"00:0c:42:1f:73:2e\",9)\r\n" +
		"\r\nOK\r\n"

	rspCIPSTA = "\r\n" +
		"+CIPSTA:ip:192.168.0.2\r\n" +
		"+CIPSTA:gateway:192.168.0.1\r\n" +
		"+CIPSTA:netmask:255.255.255.0\r\n" +
		"\r\nOK\r\n"

	rspWifiConnected = "\r\n\r\nWIFI CONNECTED\r\n" +
		"WIFI GOT IP\r\n" +
		"\r\nOK\r\n"

	rspSendPrompt = "\r\n\r\nOK\r\n> "

	rspRecvDataEmpty = "+CIPRECVDATA:0,192.168.0.2,8080,\r\nOK\r\n"

	bootBanner = "WIFI DISCONNECT\r\n\r\n" +
		" ets Jan  8 2013,rst cause:1, boot mode:(3,7)\r\n\r\n" +
		"load 0x40100000, len 1396, room 16\r\n" +
		"tail 4\r\n" +
		"chksum 0x89\r\n" +
		"load 0x3ffe8000, len 776, room 4\r\n" +
		"tail 4\r\n" +
		"chksum 0xe8\r\n" +
		"load 0x3ffe8308, len 540, room 4\r\n" +
		"tail 8\r\n" +
		"chksum 0xc0\r\n" +
		"csum 0xc0\r\n\r\n" +
		"2nd boot version : 1.4(b1)\r\n" +
		"  SPI Speed      : 40MHz\r\n" +
		"  SPI Mode       : QIO\r\n" +
		"  SPI Flash Size & Map: 8Mbit(512KB+512KB)\r\n" +
		"jump to run user1 @ 1000\r\n\r\n" +
		"ready\r\n"
)
