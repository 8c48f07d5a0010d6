// Command rpc-client is a thin CLI driving one OrderService.MakeOrder
// call against a running rpc-server, per SPEC_FULL.md §4.13.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/a2535171138/rpcgo/logging"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/rpc"
	"github.com/a2535171138/rpcgo/tcp"
	"github.com/a2535171138/rpcgo/testservice"
	"github.com/a2535171138/rpcgo/wire"
)

var (
	host    string
	port    int
	price   float64
	goods   string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "rpc-client",
	Short:         "Call OrderService.MakeOrder against an rpc-server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

func init() {
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	rootCmd.Flags().IntVar(&port, "port", 8080, "server port")
	rootCmd.Flags().Float64Var(&price, "price", 100, "order price")
	rootCmd.Flags().StringVar(&goods, "goods", "widget", "order goods")
	rootCmd.Flags().DurationVar(&timeout, "timeout", time.Second, "call timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rpc-client:", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	client, err := tcp.NewClient(nil, wire.ChecksumCRC32, logging.Noop(), nil)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	ch := rpc.NewChannel(client, netutil.New(host, port), logging.Noop(), nil)

	ctrl := rpc.NewController()
	ctrl.SetTimeout(timeout)

	req := testservice.MakeOrderRequest{Price: price, Goods: goods}
	var rsp json.RawMessage

	done := make(chan struct{})
	ch.CallMethod(ctrl, "OrderService.MakeOrder",
		func() ([]byte, error) { return json.Marshal(req) },
		func(b []byte) error { rsp = append(json.RawMessage(nil), b...); return nil },
		func() { close(done) },
	)
	<-done

	if ctrl.Failed() {
		code, info := ctrl.Error()
		return fmt.Errorf("call failed: %s: %s", code, info)
	}
	fmt.Println(string(rsp))
	return nil
}
