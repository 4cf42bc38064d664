// Command enigma-gateway runs an EnigmaIOT gateway on the UDP-multicast
// emulation of the radio medium and prints everything nodes report.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enigmaiot/enigmaiot/clocksync"
	"github.com/enigmaiot/enigmaiot/config"
	"github.com/enigmaiot/enigmaiot/device"
	"github.com/enigmaiot/enigmaiot/espnow"
	"github.com/enigmaiot/enigmaiot/logger"
	"github.com/enigmaiot/enigmaiot/wire"
)

var log = logger.GetLogger()

var (
	flagAddr   string
	flagGroup  string
	flagIface  string
	flagUseNTP bool
)

var rootCmd = &cobra.Command{
	Use:   "enigma-gateway",
	Short: "EnigmaIOT gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	cobra.OnInitialize(config.InitConfig)
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file path")
	rootCmd.Flags().StringVar(&flagAddr, "addr", "02:00:00:00:00:01", "gateway link-layer address")
	rootCmd.Flags().StringVar(&flagGroup, "group", "", "multicast group (host:port)")
	rootCmd.Flags().StringVar(&flagIface, "iface", "", "network interface for multicast")
	rootCmd.Flags().BoolVar(&flagUseNTP, "ntp", false, "discipline clock responses with NTP")
}

func run() error {
	cfg := config.GatewayConfigFromViper()
	if cfg.NetworkKey == "" {
		return fmt.Errorf("network_key must be set in the config file")
	}

	addr, err := espnow.ParseAddr(flagAddr)
	if err != nil {
		return err
	}
	bind, err := espnow.NewUDPBind(addr, flagGroup, flagIface)
	if err != nil {
		return err
	}

	gwCfg := device.GatewayConfig{
		Bind:        bind,
		NetworkKey:  cfg.NetworkKey,
		NetworkName: cfg.NetworkName,
	}
	var ntpSource *clocksync.NTPSource
	if flagUseNTP {
		ntpSource = clocksync.NewNTPSource(nil)
		ntpSource.Start()
		defer ntpSource.Stop()
		gwCfg.WallClock = ntpSource.Now
	}

	gw, err := device.NewGateway(gwCfg)
	if err != nil {
		return err
	}
	gw.SetCallbacks(device.GatewayCallbacks{
		DataRx: func(src espnow.Addr, payload []byte, lost uint16, control bool,
			encoding wire.PayloadEncoding, nodeName string) {
			name := nodeName
			if name == "" {
				name = src.String()
			}
			fmt.Printf("%s: %q (lost=%d control=%v encoding=%#02x)\n",
				name, payload, lost, control, byte(encoding))
		},
		NewNode: func(src espnow.Addr, id uint16, name string) {
			fmt.Printf("node %s registered (id=%d name=%q)\n", src, id, name)
		},
		NodeDisconnected: func(src espnow.Addr, reason wire.InvalidateReason) {
			fmt.Printf("node %s disconnected: %s\n", src, reason)
		},
		HADiscovery: func(topic string, payload []byte) {
			fmt.Printf("ha discovery %s: %s\n", topic, payload)
		},
		RestartRequested: func() {
			fmt.Println("restart requested by node")
		},
	})

	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Stop()
	log.WithField("addr", addr).Info("gateway started")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	gw.Run(ctx)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
