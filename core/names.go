package core

import (
	"fmt"
	"path/filepath"
)

// File name layout: "<name>-<g>.bin" for per-group files,
// "<name>-<g>-<chunk>.bin" for chunks.

func groupPath(dir, name string, g FrameGroup) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.bin", name, g))
}

func OpenPath(dir string, g FrameGroup) string       { return groupPath(dir, "open", g) }
func ClosedPath(dir string, g FrameGroup) string     { return groupPath(dir, "closed", g) }
func ClosingPath(dir string, g FrameGroup) string    { return groupPath(dir, "closing", g) }
func MergedPath(dir string, g FrameGroup) string     { return groupPath(dir, "merged", g) }
func MergingPath(dir string, g FrameGroup) string     { return groupPath(dir, "merging", g) }
func AllPath(dir string, g FrameGroup) string        { return groupPath(dir, "all", g) }
func AllNewPath(dir string, g FrameGroup) string     { return groupPath(dir, "allnew", g) }
// FilteringPath names the scratch file filter-open writes a rewritten
// open-g into before renaming it over open-g; seq-filter-open instead
// rewrites open-g in place via recio.RewriteStream with no scratch file.
func FilteringPath(dir string, g FrameGroup) string { return groupPath(dir, "filtering", g) }
func OpenPackedPath(dir string, g FrameGroup) string { return groupPath(dir, "openpacked", g) }

// ChunkPath names an intermediate sorted run i of group g.
func ChunkPath(dir string, g FrameGroup, i int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk-%d-%d.bin", g, i))
}

// SolutionBinPath and SolutionTxtPath are fixed, not per-group.
func SolutionBinPath(dir string) string { return filepath.Join(dir, "solution.bin") }
func SolutionTxtPath(dir string) string { return filepath.Join(dir, "solution.txt") }
func StopPath(dir string) string        { return filepath.Join(dir, "stop.txt") }
func IdlePath(dir string) string        { return filepath.Join(dir, "idle.txt") }
func LockPath(dir string) string        { return filepath.Join(dir, "engine.lock") }
