package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ipfs/go-log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PabloMansanet/subotai/node"
	"github.com/PabloMansanet/subotai/peer"
)

var log = logging.Logger("subotaid")

var cfgFile string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "subotaid",
		Short: "subotaid runs a standalone node on the overlay network",
		RunE:  runDaemon,
	}

	flags := root.Flags()
	flags.Int("inbound-port", 0, "UDP port to receive datagrams on (0 picks an OS-assigned port)")
	flags.Int("outbound-port", 0, "UDP port to send datagrams from (0 picks an OS-assigned port)")
	flags.String("seed", "", "host:port of a bootstrap peer already on the network")
	flags.Int("k-factor", node.DefaultConfiguration().KFactor, "bucket capacity / replication factor")
	flags.Int("alpha", node.DefaultConfiguration().Alpha, "lookup parallelism")
	flags.Duration("network-timeout", node.DefaultConfiguration().NetworkTimeout, "per-round RPC response deadline")
	flags.Bool("metrics", false, "expose Prometheus metrics on :2112/metrics")

	_ = viper.BindPFlags(flags)
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML configuration file (defaults: $HOME/subotaid.yaml, ./subotaid.yaml)")

	cobra.OnInitialize(initConfig)

	return root
}

// initConfig loads configuration the same way across every invocation:
// flags take precedence, then an explicit --config file, then a
// well-known default file, then the package defaults baked into
// node.DefaultConfiguration.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("subotaid")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SUBOTAI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warnf("failed to read config file: %v", err)
		}
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := node.DefaultConfiguration()
	cfg.KFactor = viper.GetInt("k-factor")
	cfg.Alpha = viper.GetInt("alpha")
	if d := viper.GetDuration("network-timeout"); d > 0 {
		cfg.NetworkTimeout = d
	}

	var metrics *node.Metrics
	if viper.GetBool("metrics") {
		reg, err := startMetricsServer(":2112")
		if err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		metrics = node.NewMetrics(reg)
	}

	n, err := newNodeFromFlags(cfg, metrics)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}
	defer func() {
		if err := n.Shutdown(); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()

	log.Infof("node %s listening on %s", n.ID(), n.LocalInfo().Addr)

	if seed := viper.GetString("seed"); seed != "" {
		addr, err := parseSeedAddr(seed)
		if err != nil {
			return fmt.Errorf("parsing --seed: %w", err)
		}
		if err := n.Bootstrap(addr); err != nil {
			return fmt.Errorf("bootstrapping against %s: %w", addr, err)
		}
		log.Infof("bootstrapped against %s", addr)
	}

	go logStateTransitions(n)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down")
	return nil
}

func newNodeFromFlags(cfg node.Configuration, metrics *node.Metrics) (*node.Node, error) {
	inPort := viper.GetInt("inbound-port")
	outPort := viper.GetInt("outbound-port")
	return node.NewWithConfigurationAndMetrics(inPort, outPort, cfg, metrics)
}

func parseSeedAddr(hostport string) (peer.Addr, error) {
	host, portStr, err := splitHostPort(hostport)
	if err != nil {
		return peer.Addr{}, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return peer.Addr{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return peer.NewAddr(host, port)
}

func splitHostPort(hostport string) (host, port string, err error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port, got %q", hostport)
	}
	return hostport[:idx], hostport[idx+1:], nil
}

// logStateTransitions logs the lifecycle state whenever it differs from the
// last logged one, checking after each received RPC, until the node shuts
// down. A state that is entered and left between two RPCs is not logged.
// This gives an operator a view of defensive-mode entry/exit without
// wiring a separate observability stack.
func logStateTransitions(n *node.Node) {
	receptions := n.Receptions()
	defer receptions.Close()

	last := n.State()
	log.Infof("state: %s", last)
	for {
		_, ok := receptions.Next()
		if !ok {
			return
		}
		if s := n.State(); s != last {
			last = s
			log.Infof("state: %s", last)
		}
	}
}
