// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

package main

import (
	"github.com/007pig/fred-sub004/fetchctx"
)

// Config is the struct cfgstruct.Bind reflects over to register every flag
// this command tree shares, mirroring FetchContext/InsertContext's fields.
type Config struct {
	StoreDir string `default:"." help:"local directory backing the demonstration block store"`

	MaxRecursionLevel        int  `default:"10"`
	MaxArchiveLevels         int  `default:"4"`
	MaxArchiveRestarts       int  `default:"3"`
	MaxSplitfileWorkers      int  `default:"8"`
	MaxSplitfileBlockRetries int  `default:"3"`
	MaxNonSplitRetries       int  `default:"3"`
	MaxDataBlocksPerSegment  int  `default:"128"`
	MaxCheckBlocksPerSegment int  `default:"64"`
	AllowSplitfiles          bool `default:"true"`
	FollowRedirects          bool `default:"true"`
	LocalOnly                bool `default:"false"`
	DontEnterImplicitArchives bool `default:"false"`
	UseDefaultDocument       bool `default:"true"`
	MaxOutputLen             int64 `default:"1073741824"`
	MaxMetadataSize          int64 `default:"1048576"`

	CompressPayload             bool `default:"true"`
	SplitfileSegmentDataBlocks  int  `default:"128"`
	SplitfileSegmentCheckBlocks int  `default:"64"`
}

// toFetchContext builds a FetchContext from the bound flags, starting from
// fetchctx.New()'s defaults and overriding the fields this CLI exposes.
func (c *Config) toFetchContext() fetchctx.FetchContext {
	fc := fetchctx.New()
	fc.MaxRecursionLevel = c.MaxRecursionLevel
	fc.MaxArchiveLevels = c.MaxArchiveLevels
	fc.MaxArchiveRestarts = c.MaxArchiveRestarts
	fc.MaxSplitfileWorkers = c.MaxSplitfileWorkers
	fc.MaxSplitfileBlockRetries = c.MaxSplitfileBlockRetries
	fc.MaxNonSplitRetries = c.MaxNonSplitRetries
	fc.MaxDataBlocksPerSegment = c.MaxDataBlocksPerSegment
	fc.MaxCheckBlocksPerSegment = c.MaxCheckBlocksPerSegment
	fc.AllowSplitfiles = c.AllowSplitfiles
	fc.FollowRedirects = c.FollowRedirects
	fc.LocalOnly = c.LocalOnly
	fc.DontEnterImplicitArchives = c.DontEnterImplicitArchives
	fc.UseDefaultDocument = c.UseDefaultDocument
	fc.MaxOutputLen = c.MaxOutputLen
	fc.MaxMetadataSize = c.MaxMetadataSize
	return fc
}

// toInsertContext builds an InsertContext from the bound flags.
func (c *Config) toInsertContext() fetchctx.InsertContext {
	ic := fetchctx.NewInsertContext()
	ic.CompressPayload = c.CompressPayload
	ic.SplitfileSegmentDataBlocks = c.SplitfileSegmentDataBlocks
	ic.SplitfileSegmentCheckBlocks = c.SplitfileSegmentCheckBlocks
	ic.MaxSplitfileWorkers = c.MaxSplitfileWorkers
	ic.MaxMetadataSize = c.MaxMetadataSize
	return ic
}
