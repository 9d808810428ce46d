package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wundergraph/federation-gateway/pkg/config"
	"github.com/wundergraph/federation-gateway/pkg/federation/servicemap"
)

// introspectCmd represents the introspect command
var introspectCmd = &cobra.Command{
	Use:     "introspect",
	Short:   "introspect builds the service map and prints the types every service owns",
	Example: "federation-gateway introspect --config gateway.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logger, sync, err := newLogger(level)
		if err != nil {
			return err
		}
		defer sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		serviceMap, err := servicemap.Build(ctx, cfg.ServiceDescriptors(),
			servicemap.WithLogger(logger),
			servicemap.WithSubscriptionConfig(cfg.SubscriptionConfig()),
		)
		if err != nil {
			return err
		}
		defer serviceMap.Close()

		printServiceMap(cmd.OutOrStdout(), serviceMap)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(introspectCmd)
}

func printServiceMap(w io.Writer, serviceMap servicemap.ServiceMap) {
	for _, name := range serviceMap.Names() {
		service := serviceMap[name]
		subscriptions := "no"
		if service.CreateSubscription != nil {
			subscriptions = "yes"
		}
		fmt.Fprintf(w, "%s (subscriptions: %s)\n", name, subscriptions)
		fmt.Fprintf(w, "  types: %s\n", strings.Join(service.Types.Names(), ", "))

		extensions := make([]string, 0, len(service.ExtensionTypeMap))
		for typeName := range service.ExtensionTypeMap {
			extensions = append(extensions, typeName)
		}
		sort.Strings(extensions)
		for _, typeName := range extensions {
			fmt.Fprintf(w, "  extends %s: %s\n", typeName, strings.Join(service.ExtensionTypeMap[typeName].Names(), ", "))
		}
	}
}
