// coapipd runs the CoAP IP transport adapter as a standalone daemon.
//
// Usage:
//
//	coapipd listen [--ipv4] [--ipv6] [--metrics-addr host:port]
//	coapipd send --addr 192.0.2.1 --port 5683 PAYLOAD
//	coapipd send --multicast --ipv6 --scope site PAYLOAD
//	coapipd interfaces
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/joshuafuller/ipadapter/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
