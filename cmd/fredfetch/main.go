// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Command fredfetch is a demonstration CLI over this module's fetch/insert
// orchestration, backed by a local directory instead of a real P2P
// routing/transport layer.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/007pig/fred-sub004/internal/cfgstruct"
)

const envPrefix = "FRED"

var config Config

func main() {
	root := &cobra.Command{
		Use:   "fredfetch",
		Short: "fetch and insert content against a local demonstration store",
	}
	cfgstruct.Bind(root.PersistentFlags(), &config)
	root.AddCommand(newFetchCmd(), newInsertCmd())

	if err := bindEnv(root.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bindEnv lets every flag cfgstruct registered also be set via an
// upper-cased, underscore-joined FRED_-prefixed environment variable.
func bindEnv(flags *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var outerErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if outerErr != nil {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			outerErr = err
			return
		}
		if v.IsSet(f.Name) {
			if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
				outerErr = err
			}
		}
	})
	return outerErr
}

func newLogger() *zap.Logger {
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
