// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Model, the in-memory form of a workflow definition.
//
// Why keep the raw config body?
//
// The core never interprets stage configuration. Each stage kind decodes its
// own block into its own input struct, and only the kind's handler knows that
// struct. The model therefore carries the block unevaluated, and the Converter
// returned by the Loader decodes it once the handler is known.
package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"
)

// Model is the format-agnostic representation of a workflow definition.
type Model struct {
	// Root is the absolute directory relative paths were resolved against.
	Root string
	// Paths holds the named directories of the `paths` block, already
	// resolved against Root.
	Paths map[string]string
	// Cache is nil when no cache block was declared.
	Cache *Cache
	// Stages are in declaration order: files in lexical order, blocks in
	// source order.
	Stages []*Stage
	// Files lists every definition file that was read.
	Files []string
}

// Cache is the remote cache configuration.
type Cache struct {
	Backend   string
	Repo      string
	Dir       string
	Tag       string
	Timeout   time.Duration
	APIURL    string
	UploadURL string

	FSInformation *FSInfo
}

// Stage is the format-agnostic representation of an `input` or `stage` block.
type Stage struct {
	// Kind names the registered handler. It is empty for input blocks, which
	// declare externally produced artifacts.
	Kind      string
	Name      string
	Outputs   []string
	DependsOn []string
	Cache     bool
	// Sources are the files that define the stage, the declaring file first.
	Sources []string
	// Config is the unevaluated config block, nil when absent.
	Config hcl.Body

	FSInformation *FSInfo
}

// IsInput reports whether the stage is a passthrough declaration.
func (s *Stage) IsInput() bool { return s.Kind == "" }

// FSInfo ties a parsed definition back to the file it came from.
type FSInfo struct {
	FilePath string
}

func NewFSInfo(filePath string) *FSInfo {
	return &FSInfo{
		FilePath: filePath,
	}
}
