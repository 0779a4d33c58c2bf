// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/007pig/fred-sub004/archive"
	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/curi"
	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetch"
)

func newFetchCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "fetch <uri>",
		Short: "fetch the content addressed by a CHK/SSK/KSK/USK uri",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, err := curi.Parse(args[0])
			if err != nil {
				return Error.Wrap(err)
			}

			store, err := newLocalBlockStore(config.StoreDir)
			if err != nil {
				return err
			}
			log := newLogger()
			defer func() { _ = log.Sync() }()

			queue := fecqueue.New(config.MaxSplitfileWorkers, 64, nil, log)
			factory := bucket.FileFactory{Dir: config.StoreDir}
			archives := archive.New(1<<30, 1<<28, factory)
			f := fetch.New(store, queue, factory, archives, log)

			out := os.Stdout
			if outPath != "" {
				file, err := os.Create(outPath)
				if err != nil {
					return Error.Wrap(err)
				}
				defer file.Close()
				out = file
			}

			return f.Fetch(cmd.Context(), uri, config.toFetchContext(), out)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write fetched bytes here instead of stdout")
	return cmd
}
