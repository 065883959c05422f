// Package source turns a host's module discovery tree into registry
// entries: a hierarchical walk producing path-keyed leaves in state
// "registered", excluding disabled entries and entries whose location does
// not match the running side.
package source

import (
	"context"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/module"
)

// Discover walks the tree depth-first, joining names with dots, and
// registers every enabled loadable leaf. Registration order follows the
// tree order, which keeps the resolver's tie-break deterministic.
func Discover(ctx context.Context, root *module.Node, location module.Location, model *config.Model, reg *registry.Registry) error {
	if root == nil {
		return nil
	}
	// An unnamed root is an anonymous container for its children.
	if root.Name == "" {
		for _, child := range root.Children {
			if err := walk(ctx, child, "", location, model, reg); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(ctx, root, "", location, model, reg)
}

func walk(ctx context.Context, node *module.Node, prefix string, location module.Location, model *config.Model, reg *registry.Registry) error {
	logger := ctxlog.FromContext(ctx)
	path := config.NormalizeName(node.Name)
	if prefix != "" {
		path = prefix + "." + path
	}

	if node.Disabled {
		logger.Debug("Skipping disabled module subtree.", "path", path)
		return nil
	}
	desc := model.Descriptor(path)
	if desc != nil && desc.Disabled {
		logger.Debug("Skipping module subtree disabled by configuration.", "path", path)
		return nil
	}

	if node.Factory != nil {
		// A non-shared location in configuration overrides the tree's.
		loc := node.Location
		if desc != nil && desc.Location != module.LocationShared {
			loc = desc.Location
		}
		if loc != module.LocationShared && loc != location {
			logger.Debug("Excluding module outside this runtime's location.",
				"path", path, "module_location", loc.String(), "runtime_location", location.String())
		} else if err := reg.Register(ctx, path, node.Factory, loc, model.Settings.OnDuplicate); err != nil {
			return err
		}
	}

	for _, child := range node.Children {
		if err := walk(ctx, child, path, location, model, reg); err != nil {
			return err
		}
	}
	return nil
}
