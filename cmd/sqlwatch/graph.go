package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sqlwatch/sqlwatch/internal/graph"
)

type graphNode struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        string   `json:"kind" yaml:"kind"`
	Path        string   `json:"path" yaml:"path"`
	SchemaBound bool     `json:"schema_bound,omitempty" yaml:"schema_bound,omitempty"`
	Dependents  []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`
}

type graphDump struct {
	Root    string      `json:"root" yaml:"root"`
	Objects []graphNode `json:"objects" yaml:"objects"`
	Cycles  []string    `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Ignored []string    `json:"ignored,omitempty" yaml:"ignored,omitempty"`
}

var graphCmd = &cobra.Command{
	Use:     "graph",
	GroupID: "inspect",
	Short:   "Dump the dependency graph as YAML or JSON",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		p, _, err := loadProject(cmd.Context())
		if err != nil {
			return err
		}

		dump := buildDump(p.Root, p.Graph, p.Ignored)

		switch strings.ToLower(format) {
		case "yaml", "yml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(dump)
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(dump)
		default:
			return fmt.Errorf("unknown format %q (use yaml or json)", format)
		}
	},
}

func buildDump(root string, g *graph.Graph, ignored []string) graphDump {
	dump := graphDump{Root: root, Ignored: ignored}
	for _, e := range g.Entities() {
		node := graphNode{
			Name:        e.Name,
			Kind:        e.Kind.String(),
			Path:        e.Path,
			SchemaBound: e.SchemaBound,
		}
		for _, d := range g.Dependents(e.Name) {
			node.Dependents = append(node.Dependents, d.Name)
		}
		dump.Objects = append(dump.Objects, node)
	}
	if cfg.Graph.DetectCycles {
		for _, c := range g.Cycles() {
			dump.Cycles = append(dump.Cycles, c.String())
		}
	}
	return dump
}

func init() {
	graphCmd.Flags().StringP("format", "f", "yaml", "output format: yaml or json")
	rootCmd.AddCommand(graphCmd)
}
