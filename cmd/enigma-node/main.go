// Command enigma-node runs a demo sensor node: it registers with its gateway
// and reports a reading on a fixed period.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

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
	flagPeriod time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "enigma-node",
	Short: "EnigmaIOT demo sensor node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	cobra.OnInitialize(config.InitConfig)
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file path")
	rootCmd.Flags().StringVar(&flagAddr, "addr", "02:00:00:00:00:10", "node link-layer address")
	rootCmd.Flags().StringVar(&flagGroup, "group", "", "multicast group (host:port)")
	rootCmd.Flags().StringVar(&flagIface, "iface", "", "network interface for multicast")
	rootCmd.Flags().DurationVar(&flagPeriod, "period", 10*time.Second, "reporting period")
}

func run() error {
	cfg := config.NodeConfigFromViper()
	if cfg.NetworkKey == "" {
		return fmt.Errorf("network_key must be set in the config file")
	}
	if cfg.GatewayAddress == "" {
		return fmt.Errorf("gateway_address must be set in the config file")
	}
	gwAddr, err := espnow.ParseAddr(cfg.GatewayAddress)
	if err != nil {
		return err
	}
	addr, err := espnow.ParseAddr(flagAddr)
	if err != nil {
		return err
	}
	bind, err := espnow.NewUDPBind(addr, flagGroup, flagIface)
	if err != nil {
		return err
	}

	node, err := device.NewNodeDevice(device.NodeDeviceConfig{
		Bind:        bind,
		GatewayAddr: gwAddr,
		NetworkKey:  cfg.NetworkKey,
		NodeName:    cfg.NodeName,
		Sleepy:      cfg.Sleepy,
		SleepPeriod: time.Duration(cfg.SleepPeriod) * time.Second,
	})
	if err != nil {
		return err
	}
	node.SetCallbacks(device.NodeCallbacks{
		Connected: func() {
			fmt.Println("registered with gateway")
		},
		Disconnected: func(reason wire.InvalidateReason) {
			fmt.Printf("disconnected: %s\n", reason)
		},
		DataRx: func(payload []byte, control bool, encoding wire.PayloadEncoding) {
			fmt.Printf("downstream: %q (control=%v)\n", payload, control)
		},
		ClockSync: func(offset, rtt time.Duration) {
			fmt.Printf("clock offset %s, rtt %s\n", offset, rtt)
		},
		NameResult: func(code wire.NodeNameResultCode) {
			if code != wire.NameOK {
				fmt.Printf("name rejected: %d\n", code)
			}
		},
	})

	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()
	if err := node.Register(); err != nil {
		return err
	}
	log.WithField("addr", addr).Info("node started")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report := time.NewTicker(flagPeriod)
	defer report.Stop()
	loop := time.NewTicker(time.Millisecond)
	defer loop.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-loop.C:
			node.Handle()
		case <-report.C:
			if node.Status() != device.Registered {
				continue
			}
			reading := fmt.Sprintf("uptime=%d", time.Now().Unix())
			if err := node.SendData([]byte(reading), wire.EncodingRaw); err != nil {
				log.WithError(err).Warn("report failed")
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
