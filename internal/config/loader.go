package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/fsutil"
)

// Load reads every *.hcl file under the given paths, decodes them, and
// translates the result into a single Model. Malformed blocks are fatal
// under strict mode; otherwise they are logged and skipped so the rest of
// the configuration still loads.
func Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := NewModel()

	var filePaths []string
	for _, path := range paths {
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			logger.Error("Failed to walk configuration path", "path", path, "error", err)
			return nil, fmt.Errorf("failed to walk configuration path %s: %w", path, err)
		}
		filePaths = append(filePaths, found...)
	}
	if len(filePaths) == 0 {
		logger.Warn("No .hcl configuration files found", "paths", paths)
		return model, nil
	}
	logger.Debug("Found configuration files to load", "files", filePaths)

	parser := hclparse.NewParser()
	var files []*File
	var softErrs []error

	for _, filePath := range filePaths {
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			softErrs = append(softErrs, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, filePath, diags))
			continue
		}
		var f File
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &f); diags.HasErrors() {
			softErrs = append(softErrs, fmt.Errorf("%w: failed to decode %s: %v", ErrInvalid, filePath, diags))
			continue
		}
		files = append(files, &f)
	}

	// Settings are folded in first so strict mode and the duplicate policy
	// are known before module blocks are judged.
	for _, f := range files {
		if f.Settings == nil {
			continue
		}
		if err := applySettings(&model.Settings, f.Settings); err != nil {
			return nil, err
		}
	}

	for _, f := range files {
		for _, mb := range f.Modules {
			desc, err := translateModule(mb)
			if err != nil {
				softErrs = append(softErrs, err)
				continue
			}
			if prev, dup := model.Modules[desc.Name]; dup {
				if model.Settings.OnDuplicate == DuplicateReject {
					return nil, fmt.Errorf("%w: duplicate module block %q", ErrInvalid, desc.Name)
				}
				logger.Warn("Duplicate module block skipped, keeping first.", "module", prev.Name)
				continue
			}
			model.Modules[desc.Name] = desc
		}
	}

	if len(softErrs) > 0 {
		if model.Settings.Strict {
			return nil, softErrs[0]
		}
		for _, err := range softErrs {
			logger.Warn("Skipping malformed configuration block.", "error", err)
		}
	}

	logger.Info("Configuration loaded.", "modules", len(model.Modules), "files", len(filePaths))
	return model, nil
}
