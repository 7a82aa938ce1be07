package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	removalDirName = "removal"
	meshDirName    = "mesh"
	dateLayout     = "20060102"
)

// Paths are the artifact locations of one run.
type Paths struct {
	RemovalDir string
	MeshDir    string
	// <date>_<label>_no_bg.png
	Removal string
	// <date>_<label>.<format>
	Mesh string
	// <date>_<label>.ply, only for the gltf conversion
	Intermediate string
}

func NewPaths(outputDir, label, format string, now time.Time) Paths {
	stem := fmt.Sprintf("%s_%s", now.Format(dateLayout), label)
	removalDir := filepath.Join(outputDir, removalDirName)
	meshDir := filepath.Join(outputDir, meshDirName)

	p := Paths{
		RemovalDir: removalDir,
		MeshDir:    meshDir,
		Removal:    filepath.Join(removalDir, stem+"_no_bg.png"),
		Mesh:       filepath.Join(meshDir, stem+"."+format),
	}
	if format == FormatGLTF {
		p.Intermediate = filepath.Join(meshDir, stem+".ply")
	}
	return p
}

// Ensure creates both output directories.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.RemovalDir, p.MeshDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	return nil
}
