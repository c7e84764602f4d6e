// Command fwdauthd runs the forward-auth gateway behind a reverse proxy.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
