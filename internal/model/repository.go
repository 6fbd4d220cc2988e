package model

// Repository is a source repository whose build targets get scanned.
type Repository struct {
	Name     string    `yaml:"name"`
	URL      string    `yaml:"url"`
	Projects []Project `yaml:"projects"`
}

// Project is a single container-image build target inside a Repository.
type Project struct {
	Name string `yaml:"name"`
	// Path is the build target path, e.g. "ic/ic-os/guestos/prod".
	Path string `yaml:"path"`
	// Link points at the source tree the image is built from.
	Link string `yaml:"link"`
}

// Key is the identity findings are tracked under. The same project name can
// be built from several targets, so the path is part of it.
func (p Project) Key() string {
	return p.Name + "@" + p.Path
}

func (p Project) String() string {
	return p.Key()
}
