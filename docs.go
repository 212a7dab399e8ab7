package main

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/IGS/ISCA/cmd"
	"github.com/spf13/cobra/doc"
)

// https://pmarsceill.github.io/just-the-docs/docs/navigation-structure/
const rootCmd = `---
layout: default
title: %s
nav_order: %d
has_children: true
permalink: /
---
`

// child command without children
const childCmd = `---
layout: default
title: %s
parent: %s
nav_order: %d
---
`

// docType codes whether the command is the root or a child
type docType int

const (
	root docType = iota
	child
)

// meta is for describing the position/info for a command doc page
type meta struct {
	docType  docType
	title    string
	navOrder int
	parent   string
}

// map from the base Markdown file name to its build meta
var metaMap = map[string]meta{
	"isca": {
		root,
		"isca",
		0,
		"",
	},
	"isca_run": {
		child,
		"run",
		0,
		"isca",
	},
	"isca_classify": {
		child,
		"classify",
		1,
		"isca",
	},
	"isca_finalize": {
		child,
		"finalize",
		2,
		"isca",
	},
	"isca_strategies": {
		child,
		"strategies",
		3,
		"isca",
	},
}

// makeDocs parses the custom commands and outputs Markdown documentation files
func makeDocs() {
	if err := doc.GenMarkdownTreeCustom(cmd.RootCmd, "./docs", filePrepender, linkHandler); err != nil {
		fmt.Println(err.Error())
	}
}

// filePrepender adds YAML headings that are required by the just-the-docs theme
// https://github.com/spf13/cobra/blob/master/doc/md_docs.md
func filePrepender(filename string) string {
	name := filepath.Base(filename)
	base := strings.TrimSuffix(name, path.Ext(name))
	m, ok := metaMap[base]
	if !ok {
		return ""
	}

	switch m.docType {
	case root:
		return fmt.Sprintf(rootCmd, m.title, m.navOrder)
	case child:
		return fmt.Sprintf(childCmd, m.title, m.parent, m.navOrder)
	}

	return ""
}

// linkHandler returns the URL to a documentation page
func linkHandler(filename string) string {
	name := filepath.Base(filename)
	base := strings.TrimSuffix(name, path.Ext(name))

	if base == "isca" {
		return "/"
	}
	return base
}
