package main

import (
	"context"
	goflag "flag"

	"github.com/wavecall/callbridge/pkg/bridge"
	"github.com/wavecall/callbridge/pkg/config"
	"github.com/wavecall/callbridge/pkg/logger"
	"github.com/wavecall/callbridge/pkg/os"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewBridgeConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Bridge.Debug, "b", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}
	b, err := bridge.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bridge init fail")
	}
	b.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := b.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
