package app

import (
	"github.com/specialistvlad/stagerun/internal/registry"
	"github.com/specialistvlad/stagerun/modules/command"
	"github.com/specialistvlad/stagerun/modules/download"
)

// coreModules is the definitive list of all modules that are compiled into
// the stagerun binary. Commands run in the workflow root.
func coreModules(root string) []registry.Module {
	return []registry.Module{
		&command.Module{Root: root},
		&download.Module{},
	}
}
