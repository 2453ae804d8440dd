package main

import (
	"os"
	"strconv"
)

// hostOwner identifies this process in lease_owner/discovery owner columns.
func hostOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ck3raven"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}
