// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/007pig/fred-sub004/bucket"
	"github.com/007pig/fred-sub004/fecqueue"
	"github.com/007pig/fred-sub004/fetch"
)

func newInsertCmd() *cobra.Command {
	var mime string

	cmd := &cobra.Command{
		Use:   "insert <file>",
		Short: "insert a file's contents as a new document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
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
			ins := fetch.NewInserter(store, queue, factory, log)

			uri, err := ins.InsertData(cmd.Context(), payload, mime, config.toInsertContext())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&mime, "mime", "", "MIME type to record in the inserted document's client metadata")
	return cmd
}
