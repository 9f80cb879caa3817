package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/output"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/store"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
	Plugin     string `yaml:"plugin,omitempty"`
}

// BatchFile maps package names to their links.
type BatchFile map[string][]BatchEntry

func newAddCmd() *cobra.Command {
	var batchPath string
	var packageName string
	var folder string
	var password string
	var pluginName string
	var collect bool

	cmd := &cobra.Command{
		Use:   "add [URL...]",
		Short: "Add links to the queue",
		Long: `Add links as a package, or load packages from a YAML batch file.

Examples:
  danzod add https://example.com/file.iso --package isos
  danzod add s3://bucket/backups/ git@github.com:tanq16/danzo.git
  danzod add --batch links.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch := BatchFile{}
			if batchPath != "" {
				loaded, err := readBatchFile(batchPath)
				if err != nil {
					return err
				}
				batch = loaded
			}
			for _, link := range args {
				batch[packageName] = append(batch[packageName], BatchEntry{Link: link, Plugin: pluginName})
			}
			if len(batch) == 0 {
				return fmt.Errorf("no links provided")
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			added, err := addBatch(rt.mgr, rt.plugins, batch, store.PackageRow{Folder: folder, Password: password, Queue: !collect})
			if err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Added %d links", added))
			return nil
		},
	}
	cmd.Flags().StringVarP(&batchPath, "batch", "b", "", "YAML file of package names mapped to links")
	cmd.Flags().StringVarP(&packageName, "package", "p", "default", "Package name for links given as arguments")
	cmd.Flags().StringVarP(&folder, "folder", "f", "", "Subfolder of the download directory for the package")
	cmd.Flags().StringVar(&password, "password", "", "Package password handed to plugins")
	cmd.Flags().StringVar(&pluginName, "plugin", "", "Force a plugin instead of detecting one from the URL")
	cmd.Flags().BoolVar(&collect, "collect", false, "Keep the package in the collector instead of the queue")
	return cmd
}

func readBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	return batch, nil
}

// addBatch creates one package per batch key. Links whose plugin cannot be
// detected are skipped with a warning.
func addBatch(mgr *manager.Manager, plugins *plugin.Registry, batch BatchFile, base store.PackageRow) (int, error) {
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)

	added := 0
	for _, name := range names {
		var links []manager.Link
		for _, entry := range batch[name] {
			link := strings.TrimSpace(entry.Link)
			if link == "" {
				log.Warn().Str("op", "cmd/add").Msgf("Empty link found in %s, skipping", name)
				continue
			}
			pluginName := entry.Plugin
			if pluginName != "" {
				normalized, ok := plugins.Normalize(pluginName)
				if !ok {
					log.Warn().Str("op", "cmd/add").Msgf("Unknown plugin %q for %s, skipping", pluginName, link)
					continue
				}
				pluginName = normalized
			} else {
				detected, ok := plugins.Detect(link)
				if !ok {
					log.Warn().Str("op", "cmd/add").Msgf("No plugin handles %s, skipping", link)
					continue
				}
				pluginName = detected
			}
			links = append(links, manager.Link{URL: link, Name: entry.OutputPath, Plugin: pluginName})
		}
		if len(links) == 0 {
			continue
		}
		pkg := base
		pkg.Name = name
		created, err := mgr.AddPackage(pkg)
		if err != nil {
			return added, err
		}
		ids, err := mgr.AddLinks(created.ID, links)
		if err != nil {
			return added, err
		}
		added += len(ids)
		log.Info().Str("op", "cmd/add").Msgf("Package %s (%d) got %d links", name, created.ID, len(ids))
	}
	return added, nil
}
