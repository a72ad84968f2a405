package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// a type with the archival parameters of a single site
type Site struct {
	// descriptive name of the site ("WIPAC", "NERSC", "DESY")
	Name string `yaml:"name"`
	// base path under which bundle archives are written at the site
	ArchiveBasePath string `yaml:"archive_base_path"`
	// true if the archival medium at the site is tape
	Tape bool `yaml:"tape"`
}

// a type describing the roster of sites participating in the archive
type Roster struct {
	Sites map[string]Site `yaml:"sites"`
}

// ReadRoster reads a site roster from the YAML file at the given path. All
// environment variables of the form ${ENV_VAR} are expanded before parsing.
func ReadRoster(path string) (Roster, error) {
	var roster Roster
	bytes, err := os.ReadFile(path)
	if err != nil {
		return roster, err
	}
	bytes = []byte(os.ExpandEnv(string(bytes)))
	err = yaml.Unmarshal(bytes, &roster)
	if err != nil {
		return roster, err
	}
	return roster, nil
}

// Site returns the roster entry for the named site.
func (r Roster) Site(name string) (Site, error) {
	site, found := r.Sites[name]
	if !found {
		return Site{}, &InvalidSiteError{Site: name}
	}
	return site, nil
}
