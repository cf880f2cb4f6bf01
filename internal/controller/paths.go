package controller

import "path/filepath"

// Filesystem layout relative to the shared root:
//
//	agent-ops/                       watched spec directory
//	agents/{folder}/CLAUDE.md        instruction document
//	sessions/{folder}/settings.json  per-agent settings bundle
//	tasks/{folder}/{inbox,active,archive}/
//	results/{folder}/{inbox,archive}/
//	knowledge/{folder}/{archive}/

func (c *Controller) agentDir(folder string) string {
	return filepath.Join(c.cfg.RootDir, "agents", folder)
}

func (c *Controller) instructionPath(folder string) string {
	return filepath.Join(c.agentDir(folder), "CLAUDE.md")
}

func (c *Controller) sessionDir(folder string) string {
	return filepath.Join(c.cfg.RootDir, "sessions", folder)
}

func (c *Controller) settingsPath(folder string) string {
	return filepath.Join(c.sessionDir(folder), "settings.json")
}

func (c *Controller) tasksDir(folder string) string {
	return filepath.Join(c.cfg.RootDir, "tasks", folder)
}

func (c *Controller) resultsDir(folder string) string {
	return filepath.Join(c.cfg.RootDir, "results", folder)
}

func (c *Controller) knowledgeDir(folder string) string {
	return filepath.Join(c.cfg.RootDir, "knowledge", folder)
}

// partitionDirs lists every private partition subdirectory created for
// an agent.
func (c *Controller) partitionDirs(folder string) []string {
	return []string{
		filepath.Join(c.tasksDir(folder), "inbox"),
		filepath.Join(c.tasksDir(folder), "active"),
		filepath.Join(c.tasksDir(folder), "archive"),
		filepath.Join(c.resultsDir(folder), "inbox"),
		filepath.Join(c.resultsDir(folder), "archive"),
		filepath.Join(c.knowledgeDir(folder), "archive"),
	}
}
