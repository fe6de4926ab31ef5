package main

import (
	"os"

	"github.com/wb-go/wbf/zlog"

	"github.com/nhle/storefront-notify/internal/cli"
)

func main() {
	zlog.Init()

	if err := cli.Execute(); err != nil {
		zlog.Logger.Error().Err(err).Msg("notifyctl failed")
		os.Exit(1)
	}
}
